package lifecycle

// RegisterDeviceRequest is the payload for device registration.
type RegisterDeviceRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=255"`
	Category string `json:"category" validate:"required,oneof=regulated legacy"`
}

// TransitionRequest is the payload for a state transition. The
// verification code is only consulted for custody-sensitive targets;
// the engine decides whether it is required.
type TransitionRequest struct {
	TargetState      string `json:"target_state" validate:"required"`
	VerificationCode string `json:"verification_code,omitempty" validate:"omitempty,handover_code"`
}
