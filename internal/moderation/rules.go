package moderation

// DefaultRules is the built-in rule set, most severe first.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "ignore-instructions",
			Category: CategoryInjection,
			Action:   Block,
			Pattern:  `(?i)\b(ignore|disregard|forget|override)\b.{0,30}\b(previous|prior|above|earlier|all|any)\b.{0,20}\b(instructions?|prompts?|rules?|directions?)\b`,
		},
		{
			Name:     "new-instructions",
			Category: CategoryInjection,
			Action:   Block,
			Pattern:  `(?i)\b(new|updated|real)\s+(instructions?|system\s+prompt)\s*:`,
		},
		{
			Name:     "prompt-leak",
			Category: CategoryInjection,
			Action:   Block,
			Pattern:  `(?i)\b(reveal|print|show|repeat|output)\b.{0,30}\b(system\s+prompt|hidden\s+instructions?|your\s+instructions)\b`,
		},
		{
			Name:     "role-markers",
			Category: CategoryImpersonation,
			Action:   Block,
			Pattern:  `(?i)(^|\s)(system|assistant|developer)\s*:|<\|?(im_start|im_end|system)\|?>|\[/?(INST|SYS)\]`,
		},
		{
			Name:     "act-as",
			Category: CategoryImpersonation,
			Action:   Flag,
			Pattern:  `(?i)\b(you\s+are\s+now|act\s+as|pretend\s+(to\s+be|you\s+are)|roleplay\s+as)\b`,
		},
		{
			Name:     "credential-request",
			Category: CategoryExfiltration,
			Action:   Block,
			Pattern:  `(?i)\b(send|give|share|tell)\b.{0,30}\b(password|passcode|api[\s_-]?key|token|secret|verification\s+code|otp)\b`,
		},
		{
			Name:     "link",
			Category: CategoryExfiltration,
			Action:   Flag,
			Pattern:  `(?i)\b(https?://|www\.)\S+`,
		},
		{
			Name:     "abuse",
			Category: CategoryAbuse,
			Action:   Flag,
			Pattern:  `(?i)\b(fuck\w*|shit\w*|bitch\w*|bastard|asshole|cunt)\b`,
		},
		{
			Name:     "email-address",
			Category: CategoryContact,
			Action:   Flag,
			Pattern:  `(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`,
		},
		{
			Name:     "phone-number",
			Category: CategoryContact,
			Action:   Flag,
			Pattern:  `\+?\d[\d\s().-]{8,}\d`,
		},
	}
}

// NewDefault compiles DefaultRules followed by extra.
func NewDefault(extra ...Rule) (*Classifier, error) {
	return New(append(DefaultRules(), extra...))
}
