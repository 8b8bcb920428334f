package session

// Phase is the session state machine state.
type Phase string

const (
	// PhaseNone is the uninitialized sentinel before any queue join.
	PhaseNone         Phase = ""
	PhaseQueued       Phase = "QUEUED"
	PhaseStakePending Phase = "STAKE_PENDING"
	PhaseStakeLocked  Phase = "STAKE_LOCKED"
	PhaseCountdown    Phase = "COUNTDOWN"
	PhasePlaying      Phase = "PLAYING"
	PhaseGameOver     Phase = "GAME_OVER"
	PhaseSettled      Phase = "SETTLED"
	PhaseDisputed     Phase = "DISPUTED"
	PhaseCancelled    Phase = "CANCELLED"
)

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseSettled || p == PhaseDisputed || p == PhaseCancelled
}

// Role is the seat assigned by the matchmaking relay. The host is
// authoritative for initiating the countdown.
type Role string

const (
	RoleHost  Role = "HOST"
	RoleGuest Role = "GUEST"
)

// Mode distinguishes wagered from free matches.
type Mode string

const (
	ModeWagered Mode = "WAGERED"
	ModeFree    Mode = "FREE"
)

// Player is one side of the match.
type Player struct {
	Name          string
	WalletAddress string
	Ready         bool
	ApprovedStake bool
}

// Config holds the match terms. The initiator sets it when joining the
// queue; the receiver overwrites it from the stake proposal.
type Config struct {
	GameType        string
	Mode            Mode
	StakeAmount     int64
	DurationSeconds int
}

// Session is one match from the local peer's point of view. Controller
// owns the mutable copy; callers only ever see value snapshots.
type Session struct {
	ID   string
	Role Role

	Local    Player
	Opponent Player

	Config Config
	Phase  Phase

	StakeTxHash  string
	SettleTxHash string

	LocalScore    int64
	OpponentScore int64

	// GameStartTime and DisputeDeadline are epoch millis, write-once.
	GameStartTime   int64
	DisputeDeadline int64

	// Winner is the winning wallet address; nil denotes a draw once the
	// phase has reached GAME_OVER.
	Winner *string

	OutcomeHash string

	ErrorMessage string
}
