package chain

// Field names a variant-specific event argument, spelled as it appears in the payload.
type Field string

const (
	FieldPlanID     Field = "planId"
	FieldPrevPlanID Field = "prevPlanId"
	FieldDiscountID Field = "discountId"
	FieldCancelAt   Field = "cancelAt"
)

// Variant describes one subscription lifecycle event emitted by the subscriptions contract.
// Fields lists the variant-specific arguments in payload order; consumer, provider,
// subscriptionId and ref are common to every variant.
type Variant struct {
	Name   string
	Event  string
	Fields []Field
}

// Has reports whether the variant carries the given field.
func (v Variant) Has(f Field) bool {
	for _, have := range v.Fields {
		if have == f {
			return true
		}
	}
	return false
}

var (
	Created           = Variant{Name: "Created", Event: "SubscriptionCreated", Fields: []Field{FieldPlanID, FieldDiscountID}}
	ChangedPlan       = Variant{Name: "ChangedPlan", Event: "SubscriptionChangedPlan", Fields: []Field{FieldPrevPlanID, FieldPlanID, FieldDiscountID}}
	PendingChangePlan = Variant{Name: "PendingChangePlan", Event: "SubscriptionPendingChangePlan", Fields: []Field{FieldPrevPlanID, FieldPlanID}}
	ChangedDiscount   = Variant{Name: "ChangedDiscount", Event: "SubscriptionChangedDiscount", Fields: []Field{FieldPlanID, FieldDiscountID}}
	Paused            = Variant{Name: "Paused", Event: "SubscriptionPaused", Fields: []Field{FieldPlanID}}
	Resumed           = Variant{Name: "Resumed", Event: "SubscriptionResumed", Fields: []Field{FieldPlanID}}
	PendingCancel     = Variant{Name: "PendingCancel", Event: "SubscriptionPendingCancel", Fields: []Field{FieldPlanID, FieldCancelAt}}
	Canceled          = Variant{Name: "Canceled", Event: "SubscriptionCanceled", Fields: []Field{FieldPlanID}}
	Renewed           = Variant{Name: "Renewed", Event: "SubscriptionRenewed", Fields: []Field{FieldPlanID}}
	TrialEnded        = Variant{Name: "TrialEnded", Event: "SubscriptionTrialEnded", Fields: []Field{FieldPlanID}}
	PastDue           = Variant{Name: "PastDue", Event: "SubscriptionPastDue", Fields: []Field{FieldPlanID}}
)

// Variants is the full set the bridge listens for.
var Variants = []Variant{
	Created,
	ChangedPlan,
	PendingChangePlan,
	ChangedDiscount,
	Paused,
	Resumed,
	PendingCancel,
	Canceled,
	Renewed,
	TrialEnded,
	PastDue,
}

// VariantByEvent looks a variant up by its on-chain event name.
func VariantByEvent(name string) (Variant, bool) {
	for _, v := range Variants {
		if v.Event == name {
			return v, true
		}
	}
	return Variant{}, false
}
