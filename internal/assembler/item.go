package assembler

// Tier is the importance class of a context item. Lower values are kept first.
type Tier int

const (
	TierCritical Tier = iota
	TierHigh
	TierMedium
	TierLow
)

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "unknown"
	}
}

// ItemType names what an item describes and where it lands in a request
type ItemType string

const (
	TypePrompt       ItemType = "prompt"
	TypeConversation ItemType = "conversation"
	TypeWorkflow     ItemType = "workflow"
	TypeCurrentStep  ItemType = "current_step"
	TypeError        ItemType = "error"
	TypeRejected     ItemType = "rejected"
	TypeExecution    ItemType = "execution"
	TypeEnvironment  ItemType = "environment"
	TypeAchievement  ItemType = "achievement"
	TypePreference   ItemType = "preference"
	TypeDigest       ItemType = "digest"
	TypePattern      ItemType = "pattern"
	TypeNote         ItemType = "note"
)

// ContextItem is one scored unit of context, built fresh for every call
type ContextItem struct {
	Content   string
	Relevance float64 // 0..1
	Recency   float64 // 0..1, newest is 1
	Tier      Tier
	Type      ItemType
	Truncated bool

	seq int // position in the request section
}

// Result reports what a selection kept
type Result struct {
	Items      []ContextItem
	Tokens     int
	Budget     int
	Truncated  bool // a critical item was shortened
	Summarized int  // items folded into the aggregate note
}
