package rules

// ReasonCode is the closed set of reasons a message can be blocked or
// redacted for. Codes are stable identifiers stored in the compliance log;
// human-readable text comes from the message catalog.
type ReasonCode string

const (
	ReasonPhone            ReasonCode = "phone_number"
	ReasonEmail            ReasonCode = "email_address"
	ReasonAddress          ReasonCode = "street_address"
	ReasonSchoolName       ReasonCode = "school_name"
	ReasonFullName         ReasonCode = "full_name"
	ReasonBirthdate        ReasonCode = "birthdate"
	ReasonCredentials      ReasonCode = "credentials"
	ReasonExternalContact  ReasonCode = "external_contact"
	ReasonExternalPlatform ReasonCode = "external_platform"
	ReasonViolence         ReasonCode = "violence"
	ReasonSelfHarmLanguage ReasonCode = "self_harm_language"
	ReasonSexualContent    ReasonCode = "sexual_content"
	ReasonExternalLink     ReasonCode = "external_link"
	ReasonEmbeddedImage    ReasonCode = "embedded_image"
)

// reasonInfo is the static metadata attached to a reason code.
type reasonInfo struct {
	family      Family
	label       string
	placeholder string
}

var reasons = map[ReasonCode]reasonInfo{
	ReasonPhone:            {FamilyPII, "phone number", "[PHONE REMOVED]"},
	ReasonEmail:            {FamilyPII, "email address", "[EMAIL REMOVED]"},
	ReasonAddress:          {FamilyPII, "home address", "[ADDRESS REMOVED]"},
	ReasonSchoolName:       {FamilyPII, "school name", "[SCHOOL REMOVED]"},
	ReasonFullName:         {FamilyPII, "full name", "[NAME REMOVED]"},
	ReasonBirthdate:        {FamilyPII, "birthdate", "[BIRTHDATE REMOVED]"},
	ReasonCredentials:      {FamilyPII, "password or login", "[CREDENTIALS REMOVED]"},
	ReasonExternalContact:  {FamilyContact, "off-platform contact request", "[CONTACT REQUEST REMOVED]"},
	ReasonExternalPlatform: {FamilyContact, "other app or platform", "[PLATFORM REMOVED]"},
	ReasonViolence:         {FamilyViolence, "violent content", "[VIOLENCE REMOVED]"},
	ReasonSelfHarmLanguage: {FamilyViolence, "self-harm language", "[SENSITIVE CONTENT]"},
	ReasonSexualContent:    {FamilySexual, "inappropriate content", "[INAPPROPRIATE CONTENT REMOVED]"},
	ReasonExternalLink:     {FamilyStructural, "external link", "[LINK REMOVED]"},
	ReasonEmbeddedImage:    {FamilyStructural, "embedded image", "[IMAGE REMOVED]"},
}

// Valid reports whether c is one of the known reason codes.
func (c ReasonCode) Valid() bool {
	_, ok := reasons[c]
	return ok
}

// Family returns the rule family the reason belongs to.
func (c ReasonCode) Family() Family {
	return reasons[c].family
}

// Label returns a short human description, e.g. "phone number".
func (c ReasonCode) Label() string {
	if info, ok := reasons[c]; ok {
		return info.label
	}
	return string(c)
}

// Placeholder returns the redaction marker used when no rule overrides it.
func (c ReasonCode) Placeholder() string {
	if info, ok := reasons[c]; ok {
		return info.placeholder
	}
	return "[REMOVED]"
}

// Family groups rules. Families are evaluated in the order listed in
// FamilyOrder.
type Family string

const (
	FamilyPII        Family = "pii"
	FamilyContact    Family = "contact"
	FamilyViolence   Family = "violence"
	FamilySexual     Family = "sexual"
	FamilyStructural Family = "structural"
)

// FamilyOrder is the fixed evaluation order of rule families.
var FamilyOrder = []Family{FamilyPII, FamilyContact, FamilyViolence, FamilySexual, FamilyStructural}

// Rank returns the position of f in FamilyOrder, or len(FamilyOrder) for an
// unknown family.
func (f Family) Rank() int {
	for i, o := range FamilyOrder {
		if o == f {
			return i
		}
	}
	return len(FamilyOrder)
}

// Escalates reports whether blocks in this family also open a concern for
// teacher review.
func (f Family) Escalates() bool {
	return f == FamilyViolence || f == FamilySexual
}

// Redactable reports whether a match in this family can be masked and the
// rest of the message still forwarded (personal details, contact attempts,
// links), as opposed to content that makes the whole message unsuitable.
func (f Family) Redactable() bool {
	return f == FamilyPII || f == FamilyContact || f == FamilyStructural
}
