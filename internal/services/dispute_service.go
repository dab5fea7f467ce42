// internal/services/dispute_service.go
package services

import (
	"mime/multipart"
	"time"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/dispute"
	"github.com/javajoker/imi-market/internal/engine"
	"github.com/javajoker/imi-market/internal/store"
	"github.com/javajoker/imi-market/internal/utils"
)

type DisputeService struct {
	eng     *engine.Engine
	storage *StorageService
}

type SubmitDisputeRequest struct {
	LicenseID uint64 `json:"license_id" validate:"gt=0"`
	Reason    string `json:"reason" validate:"required,max=2000"`
	ProofRef  string `json:"proof_ref,omitempty" validate:"max=512"`
}

type ResolveDisputeRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Reason  string `json:"reason" validate:"max=2000"`
}

// DisputeView adds the advisory deadline to a dispute.
type DisputeView struct {
	dispute.Dispute
	Deadline      time.Time `json:"deadline"`
	Overdue       bool      `json:"overdue"`
	TimeRemaining string    `json:"time_remaining"`
}

const evidenceLinkTTL = 15 * time.Minute

type EvidenceLink struct {
	ProofRef  string    `json:"proof_ref"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewDisputeService(eng *engine.Engine, storage *StorageService) *DisputeService {
	return &DisputeService{eng: eng, storage: storage}
}

func view(d dispute.Dispute, now time.Time) DisputeView {
	return DisputeView{
		Dispute:       d,
		Deadline:      d.Deadline(),
		Overdue:       d.OverdueAt(now),
		TimeRemaining: d.RemainingAt(now).Round(time.Second).String(),
	}
}

func (s *DisputeService) Submit(p authz.Principal, req *SubmitDisputeRequest) (DisputeView, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return DisputeView{}, err
	}
	var out DisputeView
	_, err := s.eng.Update("dispute.submit", func(tx *store.Tx, now time.Time) error {
		d, err := s.eng.Disputes.Submit(tx, p.Address, req.LicenseID, req.Reason, req.ProofRef, now)
		out = view(d, now)
		return err
	})
	return out, err
}

// UploadEvidence stores a proof file; the returned ProofRef is then passed to
// Submit.
func (s *DisputeService) UploadEvidence(file multipart.File, header *multipart.FileHeader) (*UploadResult, error) {
	return s.storage.UploadEvidence(file, header)
}

func (s *DisputeService) Resolve(p authz.Principal, id uint64, req *ResolveDisputeRequest) (DisputeView, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return DisputeView{}, err
	}
	var out DisputeView
	_, err := s.eng.Update("dispute.resolve", func(tx *store.Tx, now time.Time) error {
		d, err := s.eng.Disputes.Resolve(tx, p, id, *req.Approve, req.Reason, now)
		out = view(d, now)
		return err
	})
	return out, err
}

func (s *DisputeService) Execute(p authz.Principal, id uint64) (DisputeView, error) {
	var out DisputeView
	_, err := s.eng.Update("dispute.execute_revocation", func(tx *store.Tx, now time.Time) error {
		d, err := s.eng.Disputes.ExecuteRevocation(tx, p, id, now)
		out = view(d, now)
		return err
	})
	return out, err
}

func (s *DisputeService) Get(id uint64) (DisputeView, error) {
	var out DisputeView
	err := s.eng.View(func(now time.Time) error {
		d, err := s.eng.Disputes.Get(id)
		out = view(d, now)
		return err
	})
	return out, err
}

func (s *DisputeService) ForLicense(licenseID uint64) ([]DisputeView, error) {
	var out []DisputeView
	err := s.eng.View(func(now time.Time) error {
		if _, err := s.eng.Licenses.Get(licenseID); err != nil {
			return err
		}
		disputes := s.eng.Disputes.ForLicense(licenseID)
		out = make([]DisputeView, len(disputes))
		for i, d := range disputes {
			out[i] = view(d, now)
		}
		return nil
	})
	return out, err
}

// EvidenceURL presigns a dispute's proof file for its submitter, the IP owner
// it names, or an arbitrator.
func (s *DisputeService) EvidenceURL(p authz.Principal, id uint64) (*EvidenceLink, error) {
	const op = "dispute.evidence_url"
	var (
		d   dispute.Dispute
		now time.Time
	)
	err := s.eng.View(func(t time.Time) error {
		var err error
		d, err = s.eng.Disputes.Get(id)
		now = t
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.Address != d.Submitter && p.Address != d.IPOwnerAtSubmission && !p.Has(authz.CapArbitrator) {
		return nil, apperr.Authorization(op, "caller may not read evidence for dispute %d", id)
	}
	if d.ProofRef == "" {
		return nil, apperr.NotFound(op, "dispute %d has no evidence", id)
	}
	key, ok := s.storage.objectKey(d.ProofRef)
	if !ok {
		return nil, apperr.State(op, "evidence %s is not held in object storage", d.ProofRef)
	}
	url, err := s.storage.PresignedURL(key, evidenceLinkTTL)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return &EvidenceLink{ProofRef: d.ProofRef, URL: url, ExpiresAt: now.Add(evidenceLinkTTL)}, nil
}
