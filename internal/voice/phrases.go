package voice

import "time"

// GreetingSlot buckets the hour of t: 5-11 morning, 12-18 afternoon, the
// rest evening.
func GreetingSlot(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h <= 11:
		return "morning"
	case h >= 12 && h <= 18:
		return "afternoon"
	default:
		return "evening"
	}
}

var greetings = map[string]string{
	"morning":   "¡Buenos días! Te habla María, de la Clínica Veterinaria La Wanda y Macarena. ¿En qué te puedo ayudar?",
	"afternoon": "¡Buenas tardes! Te habla María, de la Clínica Veterinaria La Wanda y Macarena. ¿En qué te puedo ayudar?",
	"evening":   "¡Buenas noches! Te habla María, de la Clínica Veterinaria La Wanda y Macarena. ¿En qué te puedo ayudar?",
}

// Greeting is the opening line for a call answered at t. Its audio is
// cached under a fixed key per slot.
func Greeting(t time.Time) Reply {
	slot := GreetingSlot(t)
	return Reply{Text: greetings[slot], Key: "phrases/greeting_" + slot + ".mp3"}
}
