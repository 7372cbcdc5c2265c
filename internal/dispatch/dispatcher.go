package dispatch

import (
	"context"
	"errors"
	"fmt"

	"call-scheduler/internal/assistants"
	"call-scheduler/internal/tasks"
	"call-scheduler/internal/telephony"
	"call-scheduler/pkg/logger"
)

// ErrNoDispatchPath matches failures where neither path can place the call.
// No provider request is made in that case.
var ErrNoDispatchPath = errors.New("no dispatch path")

type unavailableError struct{ reason string }

func (e unavailableError) Error() string        { return e.reason }
func (e unavailableError) Is(target error) bool { return target == ErrNoDispatchPath }

type AssistantResolver interface {
	Resolve(ctx context.Context, tenantID string, ref assistants.Ref) (assistants.Assistant, error)
}

type ContactLookup interface {
	Get(ctx context.Context, tenantID, contactID string) (Contact, error)
}

// Dispatcher turns a claimed task into a placed call.
type Dispatcher struct {
	router     *Router
	assistants AssistantResolver
	contacts   ContactLookup
	starter    CallStarter
	timezone   string
}

func NewDispatcher(router *Router, resolver AssistantResolver, contacts ContactLookup, starter CallStarter, timezone string) *Dispatcher {
	if timezone == "" {
		timezone = "UTC"
	}
	return &Dispatcher{
		router:     router,
		assistants: resolver,
		contacts:   contacts,
		starter:    starter,
		timezone:   timezone,
	}
}

// Dispatch places the call for t. The returned error is suitable for
// FailureMessage.
func (d *Dispatcher) Dispatch(ctx context.Context, t tasks.Task) (Placement, error) {
	sel, err := d.router.Resolve(ctx, t.TenantID)
	if err != nil {
		return Placement{}, err
	}
	if sel.Path == PathUnavailable {
		return Placement{}, unavailableError{reason: sel.Reason}
	}

	asst, err := d.assistants.Resolve(ctx, t.TenantID, t.Assistant)
	if err != nil {
		return Placement{}, fmt.Errorf("resolve assistant: %w", err)
	}
	contact, err := d.contacts.Get(ctx, t.TenantID, t.ContactID)
	if err != nil {
		return Placement{}, fmt.Errorf("resolve contact: %w", err)
	}
	if contact.PhoneNumber == "" {
		return Placement{}, fmt.Errorf("contact %s has no phone number", t.ContactID)
	}

	launcher, err := d.launcherFor(sel)
	if err != nil {
		return Placement{}, err
	}
	logger.From(ctx).DebugContext(ctx, "placing call", "path", sel.Path, "assistant_kind", asst.Kind)
	return launcher.Place(ctx, PlaceRequest{Task: t, Contact: contact, Assistant: asst})
}

func (d *Dispatcher) launcherFor(sel Selection) (Launcher, error) {
	switch sel.Path {
	case PathPerTenant:
		if sel.Account == nil {
			return nil, errors.New("dispatch: per_tenant selection without account")
		}
		return NewPerTenantLauncher(d.starter, *sel.Account, d.timezone), nil
	case PathLegacy:
		if sel.Legacy == nil {
			return nil, errors.New("dispatch: legacy selection without config")
		}
		return NewLegacyLauncher(d.starter, *sel.Legacy, d.timezone), nil
	default:
		return nil, fmt.Errorf("dispatch: unknown path %q", sel.Path)
	}
}

// FailureMessage renders a dispatch error for the task's call_result.
// Provider messages and codes are kept verbatim; unreachable-provider errors
// carry a hint, since failed tasks are never retried automatically.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, telephony.ErrTransport) {
		return fmt.Sprintf("could not place call: %v; retry by rescheduling the task", err)
	}
	return err.Error()
}

// SuccessMessage renders the call_result note for a placed call.
func SuccessMessage(p Placement) string {
	return fmt.Sprintf("call started via %s path (session %s)", p.Path, p.SessionID)
}
