package directory

import (
	"context"
	"errors"
	"fmt"

	"call-scheduler/internal/assistants"
	"call-scheduler/internal/dispatch"
	"call-scheduler/internal/tasks"
)

// References implements tasks.ReferenceChecker on top of the contact and
// assistant lookups dispatch uses.
type References struct {
	contacts   dispatch.ContactLookup
	assistants dispatch.AssistantResolver
}

func NewReferences(contacts dispatch.ContactLookup, resolver dispatch.AssistantResolver) *References {
	return &References{contacts: contacts, assistants: resolver}
}

func (r *References) CheckReferences(ctx context.Context, tenantID, contactID string, ref assistants.Ref) error {
	c, err := r.contacts.Get(ctx, tenantID, contactID)
	if err != nil {
		return classify("contact", contactID, err)
	}
	if c.PhoneNumber == "" {
		return fmt.Errorf("%w: contact %s has no phone number", tasks.ErrInvalidArgument, contactID)
	}
	id, _ := ref.Resolve()
	if _, err := r.assistants.Resolve(ctx, tenantID, ref); err != nil {
		if errors.Is(err, assistants.ErrInvalidRef) {
			return err
		}
		return classify("assistant", id, err)
	}
	return nil
}

func classify(kind, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s %s", tasks.ErrUnknownReference, kind, id)
	}
	return fmt.Errorf("directory: check %s: %w", kind, err)
}

var _ tasks.ReferenceChecker = (*References)(nil)
