package rules

import "strings"

// DefaultLocale is used when a message carries no locale or an unknown one.
const DefaultLocale = "en"

// catalog holds the age-appropriate, user-facing text per locale. Messages
// are keyed by family so that no reply reveals which exact rule matched.
type catalog struct {
	family        map[Family]string
	generic       string
	crisisSupport string
}

var catalogs = map[string]catalog{
	"en": {
		family: map[Family]string{
			FamilyPII:        "For your safety, please don't share personal information like phone numbers, addresses, or passwords.",
			FamilyContact:    "Let's keep our conversation here. Please don't share other apps or ways to contact you.",
			FamilyViolence:   "That message can't be sent. If you're upset or someone might be in danger, please talk to your teacher or another trusted adult.",
			FamilySexual:     "That message isn't appropriate for class. Let's get back to learning!",
			FamilyStructural: "Links and images can't be shared here. Try describing it in words instead.",
		},
		generic:       "That message can't be sent. Try asking in a different way.",
		crisisSupport: "It sounds like things might be really hard right now. You are not alone. Please talk to a teacher or a trusted adult, or call or text 988 to reach someone who can help.",
	},
	"es": {
		family: map[Family]string{
			FamilyPII:        "Por tu seguridad, no compartas información personal como números de teléfono, direcciones o contraseñas.",
			FamilyContact:    "Sigamos la conversación aquí. Por favor no compartas otras aplicaciones ni formas de contactarte.",
			FamilyViolence:   "Ese mensaje no se puede enviar. Si estás molesto o alguien puede estar en peligro, habla con tu maestro u otro adulto de confianza.",
			FamilySexual:     "Ese mensaje no es apropiado para la clase. ¡Volvamos a aprender!",
			FamilyStructural: "Aquí no se pueden compartir enlaces ni imágenes. Intenta describirlo con palabras.",
		},
		generic:       "Ese mensaje no se puede enviar. Intenta preguntarlo de otra manera.",
		crisisSupport: "Parece que las cosas pueden estar muy difíciles ahora. No estás solo. Habla con un maestro o un adulto de confianza, o llama o envía un mensaje al 988 para hablar con alguien que puede ayudarte.",
	},
}

func lookupCatalog(locale string) catalog {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if c, ok := catalogs[locale]; ok {
		return c
	}
	return catalogs[DefaultLocale]
}

// UserMessage returns the user-facing text for a block with the given
// reasons. The reason whose family comes first in FamilyOrder decides the
// message; no reasons yields the generic text.
func UserMessage(locale string, reasons []ReasonCode) string {
	c := lookupCatalog(locale)
	best := len(FamilyOrder)
	for _, r := range reasons {
		if rank := r.Family().Rank(); rank < best {
			best = rank
		}
	}
	if best < len(FamilyOrder) {
		if msg, ok := c.family[FamilyOrder[best]]; ok {
			return msg
		}
	}
	return c.generic
}

// GenericMessage is shown for blocks that come from the moderation model
// rather than a specific rule.
func GenericMessage(locale string) string {
	return lookupCatalog(locale).generic
}

// CrisisSupportMessage is shown when a message tied to a crisis concern
// still has to be held back.
func CrisisSupportMessage(locale string) string {
	return lookupCatalog(locale).crisisSupport
}
