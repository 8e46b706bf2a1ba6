package goEnroll

// Step marks where the user is in the enrollment flow.
type Step string

const (
	StepEmail             Step = "1"
	StepEmailOTP          Step = "2"
	StepPhone             Step = "3"
	StepPhoneOTP          Step = "4"
	StepSecurityQuestions Step = "security-questions"
	StepCeremony          Step = "5"
	StepProfile           Step = "6"
)

// backSteps inverts the forward transitions. Steps missing from the table
// (including StepEmail) have nowhere to go back to.
var backSteps = map[Step]Step{
	StepEmailOTP:          StepEmail,
	StepPhoneOTP:          StepPhone,
	StepCeremony:          StepPhoneOTP,
	StepProfile:           StepCeremony,
	StepSecurityQuestions: StepPhoneOTP,
}

// Previous returns the step GoBackStep would move to from s.
func (s Step) Previous() (Step, bool) {
	prev, ok := backSteps[s]
	return prev, ok
}

func (s Step) String() string {
	switch s {
	case StepEmail:
		return "email"
	case StepEmailOTP:
		return "email-otp"
	case StepPhone:
		return "phone"
	case StepPhoneOTP:
		return "phone-otp"
	case StepSecurityQuestions:
		return "security-questions"
	case StepCeremony:
		return "ceremony"
	case StepProfile:
		return "profile"
	default:
		return string(s)
	}
}
