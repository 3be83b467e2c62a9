package domain

import (
	"strings"
	"time"
)

// Display labels of the urgency classification.
const (
	LabelLate      = "Atrasado"
	LabelUrgent    = "Apresse"
	LabelOnTime    = "No prazo"
	LabelToArrange = "A combinar"
	LabelPending   = "Pendente"
	LabelDelivered = "Entregue"
)

// Style classes paired with the labels.
const (
	ClassLate      = "late"
	ClassUrgent    = "urgent"
	ClassOnTime    = "on-time"
	ClassToArrange = "to-arrange"
	ClassPending   = "pending"
	ClassDelivered = "delivered"
	ClassNeutral   = "neutral"
)

// UrgentWindow is how close to the delivery date an order becomes urgent.
const UrgentWindow = 60 * time.Minute

// Situation is the urgency classification shown for an order.
type Situation struct {
	Label string `json:"label"`
	Class string `json:"class"`
}

// labelClasses is checked in order; the first label contained in a frozen
// situation decides its class. Relabelled or localized values fall through
// to ClassNeutral.
var labelClasses = []Situation{
	{LabelLate, ClassLate},
	{LabelUrgent, ClassUrgent},
	{LabelOnTime, ClassOnTime},
	{LabelToArrange, ClassToArrange},
	{LabelPending, ClassPending},
}

// Classify computes the situation of o at now. A frozen situation recorded on
// the order always wins over the live computation.
func Classify(o Order, now time.Time) Situation {
	if o.FinalSituacao != "" {
		class := o.FinalSituacaoClass
		if class == "" {
			class = ClassForLabel(o.FinalSituacao)
		}
		return Situation{Label: o.FinalSituacao, Class: class}
	}
	return classifyLive(o, now)
}

func classifyLive(o Order, now time.Time) Situation {
	switch {
	case o.ToArrange:
		return Situation{LabelToArrange, ClassToArrange}
	case o.Delivered:
		return Situation{LabelDelivered, ClassDelivered}
	case o.DeliveryDate == nil:
		return Situation{LabelPending, ClassPending}
	}
	diff := o.DeliveryDate.Sub(now).Minutes()
	switch {
	case diff < 0:
		return Situation{LabelLate, ClassLate}
	case diff <= UrgentWindow.Minutes():
		return Situation{LabelUrgent, ClassUrgent}
	default:
		return Situation{LabelOnTime, ClassOnTime}
	}
}

// ClassForLabel infers the style class of a frozen label.
func ClassForLabel(label string) string {
	for _, lc := range labelClasses {
		if strings.Contains(label, lc.Label) {
			return lc.Class
		}
	}
	return ClassNeutral
}

// Freeze records the situation of o at now as its final situation, unless one
// is already recorded. It reports whether o changed.
func Freeze(o *Order, now time.Time) bool {
	if o.FinalSituacao != "" {
		return false
	}
	s := classifyLive(*o, now)
	o.FinalSituacao = s.Label
	o.FinalSituacaoClass = s.Class
	return true
}
