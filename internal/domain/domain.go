package domain

type CustodyStatus string

const (
	CustodyAvailable       CustodyStatus = "available"
	CustodyReserved        CustodyStatus = "reserved"
	CustodyHandoverPending CustodyStatus = "handover_pending"
	CustodyAdopted         CustodyStatus = "adopted"
	CustodyUnderReview     CustodyStatus = "under_review"
	CustodyRejected        CustodyStatus = "rejected"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestCompleted RequestStatus = "completed"
)

// Terminal reports whether no further transition may leave the status.
func (s RequestStatus) Terminal() bool {
	return s == RequestRejected || s == RequestCompleted
}

// Handover holds the in-progress handshake state of an animal. It is non-nil
// only while the animal is handover_pending.
type Handover struct {
	SelectedApplicantID       string `json:"selected_applicant_id"`
	OwnerConfirmedHandover    bool   `json:"owner_confirmed_handover"`
	ApplicantConfirmedReceipt bool   `json:"applicant_confirmed_receipt"`
}

type Animal struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	CustodyStatus CustodyStatus     `json:"custody_status" enum:"available,reserved,handover_pending,adopted,under_review,rejected"`
	Handover      *Handover         `json:"handover,omitempty"`
	Name          string            `json:"name"`
	Species       string            `json:"species,omitempty"`
	Breed         string            `json:"breed,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	AdoptedAt     *string           `json:"adopted_at,omitempty" format:"date-time"`
	Version       int64             `json:"version"`
	CreatedAt     string            `json:"created_at" format:"date-time"`
	UpdatedAt     string            `json:"updated_at" format:"date-time"`
}

// Answer is one questionnaire entry submitted with a request.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// DeliveryDetails describes the physical handover, supplied by either party on
// confirmation and rendered into the receipt.
type DeliveryDetails struct {
	Location  string   `json:"location,omitempty"`
	Checklist []string `json:"checklist,omitempty"`
	PhotoURLs []string `json:"photo_urls,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

// Empty reports whether no field carries information.
func (d DeliveryDetails) Empty() bool {
	return d.Location == "" && len(d.Checklist) == 0 && len(d.PhotoURLs) == 0 && d.Notes == ""
}

type AdoptionRequest struct {
	ID                           string           `json:"id"`
	AnimalID                     string           `json:"animal_id"`
	ApplicantID                  string           `json:"applicant_id"`
	OwnerID                      string           `json:"owner_id"`
	Status                       RequestStatus    `json:"status" enum:"pending,approved,rejected,completed"`
	Answers                      []Answer         `json:"answers,omitempty"`
	RejectionReason              string           `json:"rejection_reason,omitempty"`
	OwnerDeliveryConfirmedAt     *string          `json:"owner_delivery_confirmed_at,omitempty" format:"date-time"`
	ApplicantDeliveryConfirmedAt *string          `json:"applicant_delivery_confirmed_at,omitempty" format:"date-time"`
	Delivery                     *DeliveryDetails `json:"delivery,omitempty"`
	ReviewedAt                   *string          `json:"reviewed_at,omitempty" format:"date-time"`
	CompletedAt                  *string          `json:"completed_at,omitempty" format:"date-time"`
	AgreementURL                 *string          `json:"agreement_url,omitempty"`
	ReceiptURL                   *string          `json:"receipt_url,omitempty"`
	CreatedAt                    string           `json:"created_at" format:"date-time"`
	UpdatedAt                    string           `json:"updated_at" format:"date-time"`
}

// BothConfirmed reports whether both parties recorded their confirmation.
func (r AdoptionRequest) BothConfirmed() bool {
	return r.OwnerDeliveryConfirmedAt != nil && r.ApplicantDeliveryConfirmedAt != nil
}

type HistoryEntry struct {
	ID                   string  `json:"id"`
	RequestID            string  `json:"request_id"`
	AnimalID             string  `json:"animal_id"`
	PreviousOwnerID      string  `json:"previous_owner_id"`
	AdopterID            string  `json:"adopter_id"`
	ApprovedAt           *string `json:"approved_at,omitempty" format:"date-time"`
	OwnerConfirmedAt     string  `json:"owner_confirmed_at" format:"date-time"`
	ApplicantConfirmedAt string  `json:"applicant_confirmed_at" format:"date-time"`
	CompletedAt          string  `json:"completed_at" format:"date-time"`
	AgreementURL         *string `json:"agreement_url,omitempty"`
	ReceiptURL           *string `json:"receipt_url,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
