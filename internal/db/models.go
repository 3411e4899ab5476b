package db

import (
	"time"

	"gorm.io/datatypes"
)

type User struct {
	ID          uint      `gorm:"primaryKey"`
	ExternalID  string    `gorm:"size:128;uniqueIndex;not null"`
	Name        string    `gorm:"size:64;not null"`
	Score       int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
	Memberships []Membership
	Presses     []Press
	Trophies    []UserTrophy
}

type Room struct {
	ID           uint      `gorm:"primaryKey"`
	Name         string    `gorm:"size:64;not null"`
	JoinCode     string    `gorm:"size:12;uniqueIndex;not null"`
	Status       string    `gorm:"size:32;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
	Memberships  []Membership
	Competitions []Competition
	Challenges   []Challenge
	Events       []Event
}

type Membership struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    uint      `gorm:"index;not null;uniqueIndex:idx_memberships_room_user"`
	UserID    uint      `gorm:"index;not null;uniqueIndex:idx_memberships_room_user"`
	JoinedAt  time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type Competition struct {
	ID            uint      `gorm:"primaryKey"`
	RoomID        uint      `gorm:"index;not null"`
	Status        string    `gorm:"size:32;not null"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
	Rounds        []Round
	CategoryGames []CategoryGame
}

// Round carries the buzzer state machine plus the embedded thumb-war
// sub-state. At most one round per competition has ended_at IS NULL.
type Round struct {
	ID                  uint       `gorm:"primaryKey"`
	CompetitionID       uint       `gorm:"index;not null"`
	StartedAt           time.Time  `gorm:"not null"`
	EndedAt             *time.Time `gorm:"index"`
	ButtonsEnabled      bool       `gorm:"not null;default:false"`
	HasTimer            bool       `gorm:"not null;default:false"`
	TimerDuration       int        `gorm:"not null;default:0"`
	TimerEndsAt         *time.Time
	WinnerUserID        *uint `gorm:"index"`
	TrophyID            *uint
	PlayerTrophyID      *uint
	ThumbGameActive     bool `gorm:"not null;default:false"`
	ThumbGameStarterID  *uint
	ThumbGameResponders datatypes.JSON `gorm:"not null"`
	ThumbGameUsedBy     datatypes.JSON `gorm:"not null"`
	CreatedAt           time.Time      `gorm:"not null"`
	UpdatedAt           time.Time      `gorm:"not null"`
	Presses             []Press
}

type Press struct {
	ID             uint      `gorm:"primaryKey"`
	RoundID        uint      `gorm:"index;not null;uniqueIndex:idx_presses_round_user"`
	UserID         uint      `gorm:"index;not null;uniqueIndex:idx_presses_round_user"`
	PressedAt      time.Time `gorm:"not null;index"`
	TimerExpiresAt *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// CategoryGame keeps the original shuffled turn order for the whole game;
// eliminated players are filtered out at read time so indices stay stable.
type CategoryGame struct {
	ID                uint           `gorm:"primaryKey"`
	CompetitionID     uint           `gorm:"index;not null"`
	Status            string         `gorm:"size:32;not null"`
	TurnOrder         datatypes.JSON `gorm:"not null"`
	EliminatedPlayers datatypes.JSON `gorm:"not null"`
	CurrentPlayerID   *uint
	CurrentTurnIndex  int  `gorm:"not null;default:0"`
	IsPaused          bool `gorm:"not null;default:false"`
	TimerStartedAt    *time.Time
	TimerPausedAt     *time.Time
	PausedTimeElapsed int `gorm:"not null;default:0"`
	WinnerID          *uint
	WinnerPoints      int `gorm:"not null;default:0"`
	TrophyID          *uint
	PlayerTrophyID    *uint
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// Challenge rows are mutated through an optimistic version token; bets and
// elimination reports re-read the row and retry when the version is stale.
type Challenge struct {
	ID        uint           `gorm:"primaryKey"`
	RoomID    uint           `gorm:"index;not null"`
	RoundID   *uint          `gorm:"index"`
	Type      string         `gorm:"size:32;not null"`
	Status    string         `gorm:"size:32;not null"`
	Alive     datatypes.JSON `gorm:"not null"`
	Results   datatypes.JSON `gorm:"not null"`
	Bets      datatypes.JSON `gorm:"not null"`
	Config    datatypes.JSON `gorm:"not null"`
	Version   uint           `gorm:"not null;default:0"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

type Trophy struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"size:64;uniqueIndex;not null"`
	Category  string    `gorm:"size:32;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// UserTrophy is the award-once collection entry. The composite unique index
// on (user_id, reward_token) makes a duplicate award a no-op. Visible carries
// no default tag: gorm drops zero-valued fields with a default from the
// INSERT, which would silently turn hidden awards visible.
type UserTrophy struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      uint      `gorm:"index;not null;uniqueIndex:idx_user_trophies_user_token"`
	RewardToken string    `gorm:"size:64;not null;uniqueIndex:idx_user_trophies_user_token"`
	TrophyID    *uint     `gorm:"index"`
	PlayerID    *uint     `gorm:"index"`
	Visible     bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// Event is the persisted copy of every broadcast envelope, kept so clients
// can refetch what they missed while disconnected.
type Event struct {
	ID        uint           `gorm:"primaryKey"`
	RoomID    *uint          `gorm:"index"`
	Type      string         `gorm:"size:64;not null"`
	Payload   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
}
