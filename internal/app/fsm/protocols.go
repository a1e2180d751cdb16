package fsm

type State string

type Event string

// Events are both transition inputs and listener keys. EventSend starts a
// session and is re-emitted on every retransmission.
const (
	EventSend     Event = "send"
	EventRetry    Event = "retry"
	EventAccepted Event = "accepted"
	EventRejected Event = "rejected"
	EventCancel   Event = "cancel"
	EventTimeout  Event = "timeout"
	EventAllowed  Event = "allowed"
	EventAnswered Event = "answered"
)

const (
	StateInitial State = "initial"

	StateInviting      State = "inviting"
	StateRetryInviting State = "retry_inviting"
	StateAccepted      State = "accepted"

	StateApplying      State = "applying"
	StateRetryApplying State = "retry_applying"

	StateNoticing      State = "noticing"
	StateRetryNoticing State = "retry_noticing"
	StateAllowed       State = "allowed"

	StateWaiting  State = "waiting"
	StateAnswered State = "answered"
)

type Effect int

const (
	EffectSend Effect = iota
	EffectRetry
	EffectResolve
	EffectReset
)

type Rule struct {
	Event  Event
	Src    []State
	Dst    State
	Effect Effect
}

// Definition is a protocol's transition table. Every rule for one event must
// share the same Effect.
type Definition struct {
	Name    string
	Initial State
	Rules   []Rule
}

// Terminal reports whether ev settles a session.
func Terminal(ev Event) bool {
	switch ev {
	case EventAccepted, EventRejected, EventCancel, EventTimeout, EventAllowed, EventAnswered:
		return true
	}
	return false
}

func inflight(start, retry State) []State { return []State{start, retry} }

var Invitation = Definition{
	Name:    "invitation",
	Initial: StateInitial,
	Rules: []Rule{
		{EventSend, []State{StateInitial}, StateInviting, EffectSend},
		{EventRetry, inflight(StateInviting, StateRetryInviting), StateRetryInviting, EffectRetry},
		{EventAccepted, inflight(StateInviting, StateRetryInviting), StateAccepted, EffectResolve},
		{EventRejected, inflight(StateInviting, StateRetryInviting), StateInitial, EffectReset},
		{EventCancel, inflight(StateInviting, StateRetryInviting), StateInitial, EffectReset},
		{EventTimeout, inflight(StateInviting, StateRetryInviting), StateInitial, EffectReset},
	},
}

var Application = Definition{
	Name:    "application",
	Initial: StateInitial,
	Rules: []Rule{
		{EventSend, []State{StateInitial}, StateApplying, EffectSend},
		{EventRetry, inflight(StateApplying, StateRetryApplying), StateRetryApplying, EffectRetry},
		{EventAccepted, inflight(StateApplying, StateRetryApplying), StateAccepted, EffectResolve},
		{EventRejected, inflight(StateApplying, StateRetryApplying), StateInitial, EffectReset},
		{EventCancel, inflight(StateApplying, StateRetryApplying), StateInitial, EffectReset},
		{EventTimeout, inflight(StateApplying, StateRetryApplying), StateInitial, EffectReset},
	},
}

var EndNotice = Definition{
	Name:    "end_notice",
	Initial: StateInitial,
	Rules: []Rule{
		{EventSend, []State{StateInitial}, StateNoticing, EffectSend},
		{EventRetry, inflight(StateNoticing, StateRetryNoticing), StateRetryNoticing, EffectRetry},
		{EventAllowed, inflight(StateNoticing, StateRetryNoticing), StateAllowed, EffectResolve},
		{EventTimeout, inflight(StateNoticing, StateRetryNoticing), StateInitial, EffectReset},
	},
}

// DeviceToggle stays in Waiting across retries.
var DeviceToggle = Definition{
	Name:    "device_toggle",
	Initial: StateInitial,
	Rules: []Rule{
		{EventSend, []State{StateInitial}, StateWaiting, EffectSend},
		{EventRetry, []State{StateWaiting}, StateWaiting, EffectRetry},
		{EventAnswered, []State{StateWaiting}, StateAnswered, EffectResolve},
		{EventTimeout, []State{StateWaiting}, StateInitial, EffectReset},
	},
}

func NewInvitation(opts ...Option) *Machine   { return New(Invitation, opts...) }
func NewApplication(opts ...Option) *Machine  { return New(Application, opts...) }
func NewEndNotice(opts ...Option) *Machine    { return New(EndNotice, opts...) }
func NewDeviceToggle(opts ...Option) *Machine { return New(DeviceToggle, opts...) }
