package payment

// State implements the state pattern for the payment lifecycle:
// created -> awaiting_verification -> {successful | failed}, with cancelled
// reachable from any non-terminal state. Re-entering a terminal state with the
// same event is a no-op, never an error, so retried gateway callbacks replay
// the original outcome instead of double-running side effects.
type State interface {
	Status() Status
	OnVerificationStarted(p *Payment) (State, error)
	OnVerified(p *Payment) (State, error)
	OnFailed(p *Payment, reason string) (State, error)
	OnCancelled(p *Payment) (State, error)
}

func stateFor(s Status) State {
	switch s {
	case StatusCreated:
		return createdState{}
	case StatusAwaitingVerification:
		return awaitingVerificationState{}
	case StatusSuccessful:
		return successfulState{}
	case StatusFailed:
		return failedState{}
	case StatusCancelled:
		return cancelledState{}
	}
	return createdState{}
}

// BeginVerification moves the payment into awaiting_verification.
func (p *Payment) BeginVerification() error {
	return p.apply(func(s State) (State, error) { return s.OnVerificationStarted(p) })
}

// MarkSuccessful commits the terminal success state. Calling it on an already
// successful payment is a no-op.
func (p *Payment) MarkSuccessful() error {
	return p.apply(func(s State) (State, error) { return s.OnVerified(p) })
}

// MarkFailed commits the terminal failure state. Failed is irreversible; no
// fund-moving step is ever auto-retried out of it.
func (p *Payment) MarkFailed(reason string) error {
	return p.apply(func(s State) (State, error) { return s.OnFailed(p, reason) })
}

// Cancel applies a user cancellation, allowed before verification completes.
func (p *Payment) Cancel() error {
	return p.apply(func(s State) (State, error) { return s.OnCancelled(p) })
}

func (p *Payment) apply(event func(State) (State, error)) error {
	next, err := event(stateFor(p.Status))
	if err != nil {
		return err
	}
	p.Status = next.Status()
	p.touch()
	return nil
}

type createdState struct{}

func (createdState) Status() Status { return StatusCreated }

func (createdState) OnVerificationStarted(p *Payment) (State, error) {
	p.FailureReason = ""
	return awaitingVerificationState{}, nil
}

func (createdState) OnVerified(*Payment) (State, error) {
	return nil, ErrStateConflict
}

func (createdState) OnFailed(p *Payment, reason string) (State, error) {
	p.FailureReason = reason
	return failedState{}, nil
}

func (createdState) OnCancelled(*Payment) (State, error) {
	return cancelledState{}, nil
}

type awaitingVerificationState struct{}

func (awaitingVerificationState) Status() Status { return StatusAwaitingVerification }

func (awaitingVerificationState) OnVerificationStarted(*Payment) (State, error) {
	return awaitingVerificationState{}, nil
}

func (awaitingVerificationState) OnVerified(p *Payment) (State, error) {
	p.FailureReason = ""
	return successfulState{}, nil
}

func (awaitingVerificationState) OnFailed(p *Payment, reason string) (State, error) {
	p.FailureReason = reason
	return failedState{}, nil
}

func (awaitingVerificationState) OnCancelled(*Payment) (State, error) {
	return cancelledState{}, nil
}

type successfulState struct{}

func (successfulState) Status() Status { return StatusSuccessful }

func (successfulState) OnVerificationStarted(*Payment) (State, error) {
	return nil, ErrStateConflict
}

func (successfulState) OnVerified(*Payment) (State, error) {
	return successfulState{}, nil
}

func (successfulState) OnFailed(*Payment, string) (State, error) {
	return nil, ErrStateConflict
}

func (successfulState) OnCancelled(*Payment) (State, error) {
	return nil, ErrStateConflict
}

type failedState struct{}

func (failedState) Status() Status { return StatusFailed }

func (failedState) OnVerificationStarted(*Payment) (State, error) {
	return nil, ErrStateConflict
}

func (failedState) OnVerified(*Payment) (State, error) {
	return nil, ErrStateConflict
}

func (failedState) OnFailed(p *Payment, reason string) (State, error) {
	if p.FailureReason == "" {
		p.FailureReason = reason
	}
	return failedState{}, nil
}

func (failedState) OnCancelled(*Payment) (State, error) {
	return nil, ErrStateConflict
}

type cancelledState struct{}

func (cancelledState) Status() Status { return StatusCancelled }

func (cancelledState) OnVerificationStarted(*Payment) (State, error) {
	return nil, ErrStateConflict
}

func (cancelledState) OnVerified(*Payment) (State, error) {
	return nil, ErrStateConflict
}

func (cancelledState) OnFailed(*Payment, string) (State, error) {
	return nil, ErrStateConflict
}

func (cancelledState) OnCancelled(*Payment) (State, error) {
	return cancelledState{}, nil
}
