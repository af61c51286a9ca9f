package dto

// CreateSufragioRequest registers a voter at a voting center.
type CreateSufragioRequest struct {
	NationalID   string `json:"nationalId" validate:"required,max=32"`
	Name         string `json:"name" validate:"required,max=200"`
	VotingCenter string `json:"votingCenter" validate:"required,max=200"`
	Department   string `json:"department" validate:"required,max=100"`
	Municipality string `json:"municipality" validate:"required,max=100"`
	Sex          string `json:"sex" validate:"required,oneof=M F"`
}

// CheckInRequest verifies a voter at the receiving table.
type CheckInRequest struct {
	RecordID string `json:"recordId" validate:"required"`
}

// CastBallotRequest records the ballot cast at the booth.
type CastBallotRequest struct {
	RecordID string `json:"recordId" validate:"required"`
	BallotID string `json:"ballotId" validate:"required,max=64"`
}
