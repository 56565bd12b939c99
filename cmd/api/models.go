package main

import (
	"time"

	"rentflow/rental"
)

type tokenResponse struct {
	Token     string `json:"token"`
	Address   string `json:"address"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expiresAt"`
}

type mintAssetRequest struct {
	AssetID     string `json:"assetId"`
	Owner       string `json:"owner"`
	MetadataURI string `json:"metadataUri"`
}

type registerRequest struct {
	Collection           string `json:"collection"`
	AssetID              string `json:"assetId"`
	MinRentalPeriod      uint32 `json:"minRentalPeriod"`
	MaxRentalPeriod      uint32 `json:"maxRentalPeriod"`
	DailyRate            uint64 `json:"dailyRate"`
	SecurityDepositRatio uint8  `json:"securityDepositRatio"`
}

type rentRequest struct {
	RentalPeriod uint32 `json:"rentalPeriod"`
	Payment      uint64 `json:"payment"`
}

type approvalRequest struct {
	Approve bool `json:"approve"`
}

type dispositionRequest struct {
	Judgment             string `json:"judgment"`
	DecisionPaymentRatio uint8  `json:"decisionPaymentRatio"`
	OwnerPenaltyRatio    uint8  `json:"ownerPenaltyRatio"`
}

type feeRatioRequest struct {
	Ratio uint8 `json:"ratio"`
}

type feeWithdrawalRequest struct {
	Recipient string `json:"recipient"`
}

type penaltyPaymentRequest struct {
	Amount uint64 `json:"amount"`
}

type paymentFailureResponse struct {
	Operation string `json:"operation"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

type positionResponse struct {
	ID                   uint64                   `json:"id"`
	Collection           string                   `json:"collection"`
	AssetID              string                   `json:"assetId"`
	Owner                string                   `json:"owner"`
	Renter               string                   `json:"renter,omitempty"`
	Status               string                   `json:"status"`
	MinRentalPeriod      uint32                   `json:"minRentalPeriod"`
	MaxRentalPeriod      uint32                   `json:"maxRentalPeriod"`
	DailyRate            uint64                   `json:"dailyRate"`
	SecurityDepositRatio uint8                    `json:"securityDepositRatio"`
	RentalPeriod         uint32                   `json:"rentalPeriod,omitempty"`
	RentStarted          string                   `json:"rentStarted,omitempty"`
	RentEndsAt           string                   `json:"rentEndsAt,omitempty"`
	DisputeBy            string                   `json:"disputeBy,omitempty"`
	MetadataURI          string                   `json:"metadataUri,omitempty"`
	RegisteredAt         string                   `json:"registeredAt"`
	PaymentFailures      []paymentFailureResponse `json:"paymentFailures,omitempty"`
}

func newPositionResponse(w rental.Wrap, status rental.Status) positionResponse {
	resp := positionResponse{
		ID:                   uint64(w.ID),
		Collection:           w.Asset.Collection,
		AssetID:              w.Asset.AssetID,
		Owner:                string(w.Owner),
		Renter:               string(w.Renter),
		Status:               string(status),
		MinRentalPeriod:      w.MinRentalPeriod,
		MaxRentalPeriod:      w.MaxRentalPeriod,
		DailyRate:            uint64(w.DailyRate),
		SecurityDepositRatio: w.SecurityDepositRatio,
		RentalPeriod:         w.RentalPeriod,
		DisputeBy:            string(w.DisputeBy),
		RegisteredAt:         w.RegisteredAt.UTC().Format(time.RFC3339),
	}
	if !w.RentStarted.IsZero() {
		resp.RentStarted = w.RentStarted.UTC().Format(time.RFC3339)
		resp.RentEndsAt = w.RentEndsAt().UTC().Format(time.RFC3339)
	}
	return resp
}

type outcomeResponse struct {
	PositionID      uint64                   `json:"positionId"`
	Judgment        string                   `json:"judgment"`
	RaisedBy        string                   `json:"raisedBy"`
	RentalFee       uint64                   `json:"rentalFee"`
	OwnerPayout     uint64                   `json:"ownerPayout"`
	RenterPayout    uint64                   `json:"renterPayout"`
	ServiceFee      uint64                   `json:"serviceFee"`
	Unallocated     uint64                   `json:"unallocated"`
	Penalty         uint64                   `json:"penalty"`
	Destroyed       bool                     `json:"destroyed"`
	AssetReturned   bool                     `json:"assetReturned"`
	PaymentFailures []paymentFailureResponse `json:"paymentFailures,omitempty"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Penalty uint64 `json:"penalty"`
}

type feesResponse struct {
	Ratio   uint8  `json:"ratio"`
	Balance uint64 `json:"balance"`
	Escrow  uint64 `json:"escrow"`
	Parked  uint64 `json:"parked"`
}

type eventResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Actor      string         `json:"actor,omitempty"`
	Payload    map[string]any `json:"payload"`
	OccurredAt string         `json:"occurredAt"`
}
