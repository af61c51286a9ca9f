package models

import (
	"fmt"
	"time"
)

// State is the lifecycle stage of a voting record.
type State int

const (
	StateRegistered State = 0
	StateCheckedIn  State = 1
	StateBallotCast State = 2
)

var stateNames = map[State]string{
	StateRegistered: "REGISTERED",
	StateCheckedIn:  "CHECKED_IN",
	StateBallotCast: "BALLOT_CAST",
}

// allowedTransitions lists the successors of each state. BallotCast is terminal.
var allowedTransitions = map[State][]State{
	StateRegistered: {StateCheckedIn},
	StateCheckedIn:  {StateBallotCast},
}

// String implements fmt.Stringer.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// CanAdvanceTo reports whether target directly follows s.
func (s State) CanAdvanceTo(target State) bool {
	for _, next := range allowedTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Event names recorded on a voting record.
const (
	EventVotingCenterEntry          = "votingCenterEntry"
	EventReceivingTableVerification = "receivingTableVerification"
	EventBallotCast                 = "ballotCast"
)

// EventDateLayout is the wire format of Event.Date.
const EventDateLayout = "2006/01/02 15:04:05"

// Event describes one lifecycle step of a voting record.
type Event struct {
	Name     string `json:"eventName"`
	Date     string `json:"eventDate"`
	Status   *State `json:"status,omitempty"`
	BallotID string `json:"ballotId,omitempty"`
}

// NewEvent builds an event stamped with at in UTC.
func NewEvent(name string, at time.Time) Event {
	return Event{Name: name, Date: at.UTC().Format(EventDateLayout)}
}

// WithStatus returns a copy of e carrying status.
func (e Event) WithStatus(status State) Event {
	e.Status = &status
	return e
}

// VotingRecord is the ledger document of one voter registration.
type VotingRecord struct {
	RecordID     string  `json:"recordId,omitempty"`
	NationalID   string  `json:"nationalId"`
	Name         string  `json:"name"`
	VotingCenter string  `json:"votingCenter"`
	Department   string  `json:"department"`
	Municipality string  `json:"municipality"`
	Sex          string  `json:"sex"`
	State        State   `json:"state"`
	CreatorID    string  `json:"creatorId"`
	Events       []Event `json:"events"`
}

// Transition is the result of advancing a record.
type Transition struct {
	RecordID string `json:"recordId"`
	State    State  `json:"state"`
}

// RevisionMetadata identifies a committed revision.
type RevisionMetadata struct {
	ID      string    `json:"id"`
	Version int64     `json:"version"`
	TxID    string    `json:"txId"`
	TxTime  time.Time `json:"txTime"`
}

// Revision is one entry of a voting record's history.
type Revision struct {
	Metadata     RevisionMetadata `json:"metadata"`
	Hash         string           `json:"hash"`
	PreviousHash string           `json:"previousHash,omitempty"`
	Data         VotingRecord     `json:"data"`
}

// HistoryVerification reports the result of recomputing a record's hash chain.
type HistoryVerification struct {
	RecordID  string `json:"recordId"`
	Revisions int    `json:"revisions"`
	Digest    string `json:"digest"`
	Valid     bool   `json:"valid"`
	Detail    string `json:"detail,omitempty"`
}

// HistoryExport is a rendered history document.
type HistoryExport struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ProjectedRecord is the read-model view of a voting record kept by the projection.
type ProjectedRecord struct {
	DocumentID string       `json:"documentId"`
	Version    int64        `json:"version"`
	TxID       string       `json:"txId"`
	TxTime     time.Time    `json:"txTime"`
	Hash       string       `json:"hash"`
	Record     VotingRecord `json:"record"`
}
