package deed

import (
	"errors"
	"fmt"
	"time"

	"deedchain/core/events"
	"deedchain/core/types"
	nativecommon "deedchain/native/common"
)

const moduleName = "deed"

var (
	errNilState      = errors.New("deed registry: state not configured")
	ErrDeedNotFound  = errors.New("deed registry: deed not found")
	ErrNotAuthorized = errors.New("deed registry: caller not authorized")
	ErrZeroRecipient = errors.New("deed registry: recipient must be set")
	ErrRegistrarOnly = errors.New("deed registry: only the registrar may mint")
)

type registryState interface {
	DeedPut(*Deed) error
	DeedGet(tokenID uint64) (*Deed, bool)
	DeedNextTokenID() (uint64, error)
}

type deedEvent struct {
	evt *types.Event
}

func (e deedEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e deedEvent) Event() *types.Event { return e.evt }

// Registry manages ownership of property title deeds. It is the ledger-native
// collaborator the escrow engine takes custody from and settles against.
type Registry struct {
	state     registryState
	emitter   events.Emitter
	registrar [20]byte
	pauses    nativecommon.PauseView
	nowFn     func() int64
}

// NewRegistry creates a deed registry with a no-op emitter.
func NewRegistry() *Registry {
	return &Registry{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetRegistrar configures the only identity allowed to mint new deeds.
func (r *Registry) SetRegistrar(addr [20]byte) { r.registrar = addr }

// SetPauses wires the module pause switches.
func (r *Registry) SetPauses(p nativecommon.PauseView) { r.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Registry) emit(evt *types.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(deedEvent{evt: evt})
}

func (r *Registry) load(tokenID uint64) (*Deed, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	d, ok := r.state.DeedGet(tokenID)
	if !ok {
		return nil, ErrDeedNotFound
	}
	return d, nil
}

// Mint issues a new title deed to the given owner with the supplied metadata
// URI and returns the assigned token id.
func (r *Registry) Mint(caller, owner [20]byte, uri string) (*Deed, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	if caller != r.registrar {
		return nil, ErrRegistrarOnly
	}
	if owner == ([20]byte{}) {
		return nil, ErrZeroRecipient
	}
	tokenID, err := r.state.DeedNextTokenID()
	if err != nil {
		return nil, err
	}
	d := &Deed{TokenID: tokenID, Owner: owner, URI: uri, MintedAt: r.nowFn()}
	sanitized, err := SanitizeDeed(d)
	if err != nil {
		return nil, err
	}
	if err := r.state.DeedPut(sanitized); err != nil {
		return nil, err
	}
	r.emit(NewMintedEvent(sanitized))
	return sanitized.Clone(), nil
}

// OwnerOf returns the current owner of the deed.
func (r *Registry) OwnerOf(tokenID uint64) ([20]byte, error) {
	d, err := r.load(tokenID)
	if err != nil {
		return [20]byte{}, err
	}
	return d.Owner, nil
}

// TokenURI returns the metadata URI recorded at mint time.
func (r *Registry) TokenURI(tokenID uint64) (string, error) {
	d, err := r.load(tokenID)
	if err != nil {
		return "", err
	}
	return d.URI, nil
}

// Approve allows the current owner to pre-approve a future transfer of the
// deed by the operator address. Approval is cleared on transfer.
func (r *Registry) Approve(caller, operator [20]byte, tokenID uint64) error {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	d, err := r.load(tokenID)
	if err != nil {
		return err
	}
	if caller != d.Owner {
		return ErrNotAuthorized
	}
	d.Approved = operator
	return r.state.DeedPut(d)
}

// Transfer moves the deed to a new owner. The caller must be the current
// owner or the approved operator. Any outstanding approval is cleared.
func (r *Registry) Transfer(caller, to [20]byte, tokenID uint64) error {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	d, err := r.load(tokenID)
	if err != nil {
		return err
	}
	if caller != d.Owner && (d.Approved == ([20]byte{}) || caller != d.Approved) {
		return ErrNotAuthorized
	}
	if to == ([20]byte{}) {
		return ErrZeroRecipient
	}
	from := d.Owner
	d.Owner = to
	d.Approved = [20]byte{}
	if err := r.state.DeedPut(d); err != nil {
		return err
	}
	r.emit(NewTransferredEvent(d, from))
	return nil
}

// Get returns a copy of the full deed record.
func (r *Registry) Get(tokenID uint64) (*Deed, error) {
	d, err := r.load(tokenID)
	if err != nil {
		return nil, fmt.Errorf("deed %d: %w", tokenID, err)
	}
	return d.Clone(), nil
}
