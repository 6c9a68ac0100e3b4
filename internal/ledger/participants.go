package ledger

import (
	"context"
	"log/slog"
	"time"
)

// NewParticipant is the input for CreateParticipant.
type NewParticipant struct {
	Name       string     `json:"name" validate:"required,min=2,max=100,sevakname"`
	Gender     Gender     `json:"gender" validate:"required,oneof=male female"`
	Actor      Actor      `json:"-" validate:"-"`
	DeviceTime DeviceTime `json:"-" validate:"-"`
}

// ParticipantUpdate renames a participant. Gender may be repeated but not changed.
type ParticipantUpdate struct {
	SevakID    string     `json:"sevak_id" validate:"required"`
	Name       string     `json:"name" validate:"required,min=2,max=100,sevakname"`
	Gender     Gender     `json:"gender" validate:"omitempty,oneof=male female"`
	DeviceTime DeviceTime `json:"-" validate:"-"`
}

// CreateParticipant allocates the next ID in the gender partition and grants
// the initial balance, both in one unit of work.
func (s *Service) CreateParticipant(ctx context.Context, in NewParticipant) (p Participant, err error) {
	start := time.Now()
	defer func() {
		s.observe(ctx, "create_participant", start, err, slog.String("sevak_id", p.SevakID), slog.String("actor", in.Actor.Email))
	}()

	in.Name = cleanName(in.Name)
	if err = checkStruct(in); err != nil {
		return Participant{}, err
	}
	if err = checkActor(in.Actor); err != nil {
		return Participant{}, err
	}
	if err = checkDeviceTime(in.DeviceTime); err != nil {
		return Participant{}, err
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		return s.createInTx(ctx, tx, in, &p)
	})
	if err != nil {
		return Participant{}, storageErr("create participant", err)
	}
	s.mutated(ctx)
	return p, nil
}

func (s *Service) createInTx(ctx context.Context, tx Tx, in NewParticipant, out *Participant) error {
	existing, err := tx.LockPartition(ctx, in.Gender)
	if err != nil {
		return err
	}
	id, err := s.policy.IDs.Next(in.Gender, existing)
	if err != nil {
		return err
	}
	p := Participant{
		SevakID:   id,
		Name:      in.Name,
		Gender:    in.Gender,
		Points:    s.policy.InitialPoints,
		IsActive:  true,
		CreatedAt: in.DeviceTime.Wall,
		UpdatedAt: in.DeviceTime.Wall,
	}
	if err := tx.InsertParticipant(ctx, &p); err != nil {
		return err
	}
	err = tx.InsertTransaction(ctx, &Transaction{
		ParticipantID: p.ID,
		SevakID:       p.SevakID,
		SevakName:     p.Name,
		Actor:         in.Actor,
		Kind:          KindInitial,
		PointsChange:  s.policy.InitialPoints,
		PointsBefore:  0,
		PointsAfter:   s.policy.InitialPoints,
		Description:   "Initial points",
		CreatedAt:     in.DeviceTime.Wall,
	})
	if err != nil {
		return err
	}
	*out = p
	return nil
}

func (s *Service) UpdateParticipant(ctx context.Context, in ParticipantUpdate) (p Participant, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "update_participant", start, err, slog.String("sevak_id", in.SevakID)) }()

	in.SevakID = normalizeSevakID(in.SevakID)
	in.Name = cleanName(in.Name)
	if err = checkStruct(in); err != nil {
		return Participant{}, err
	}
	if err = checkDeviceTime(in.DeviceTime); err != nil {
		return Participant{}, err
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		cur, err := activeParticipant(ctx, tx, in.SevakID)
		if err != nil {
			return err
		}
		if in.Gender != "" && in.Gender != cur.Gender {
			return validationf("gender cannot be changed after creation")
		}
		cur.Name = in.Name
		cur.UpdatedAt = in.DeviceTime.Wall
		if err := tx.SaveParticipant(ctx, cur); err != nil {
			return err
		}
		p = cur
		return nil
	})
	if err != nil {
		return Participant{}, storageErr("update participant", err)
	}
	s.mutated(ctx)
	return p, nil
}

// DeactivateParticipant hides a participant from lookups, engines and the
// leaderboard. Its history is kept and its ID is never reallocated.
func (s *Service) DeactivateParticipant(ctx context.Context, sevakID string, dt DeviceTime) (err error) {
	sevakID = normalizeSevakID(sevakID)
	start := time.Now()
	defer func() { s.observe(ctx, "deactivate_participant", start, err, slog.String("sevak_id", sevakID)) }()

	if err = checkDeviceTime(dt); err != nil {
		return err
	}
	err = s.store.WithTx(ctx, func(tx Tx) error {
		p, err := activeParticipant(ctx, tx, sevakID)
		if err != nil {
			return err
		}
		p.IsActive = false
		p.UpdatedAt = dt.Wall
		return tx.SaveParticipant(ctx, p)
	})
	if err != nil {
		return storageErr("deactivate participant", err)
	}
	s.mutated(ctx)
	return nil
}

// PurgeParticipant hard-deletes a participant with its transactions,
// attendance and feedback.
func (s *Service) PurgeParticipant(ctx context.Context, sevakID string) (err error) {
	sevakID = normalizeSevakID(sevakID)
	start := time.Now()
	defer func() { s.observe(ctx, "purge_participant", start, err, slog.String("sevak_id", sevakID)) }()

	err = s.store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.LockParticipant(ctx, sevakID)
		if err != nil {
			return err
		}
		return tx.PurgeParticipant(ctx, p.ID)
	})
	if err != nil {
		return storageErr("purge participant", err)
	}
	s.mutated(ctx)
	return nil
}

// GetParticipant returns an active participant.
func (s *Service) GetParticipant(ctx context.Context, sevakID string) (Participant, error) {
	p, err := s.store.Participant(ctx, normalizeSevakID(sevakID))
	if err != nil {
		return Participant{}, storageErr("get participant", err)
	}
	if !p.IsActive {
		return Participant{}, ErrNotFound
	}
	return p, nil
}

// ListParticipants is the admin roster, inactive rows included.
func (s *Service) ListParticipants(ctx context.Context, g Gender) ([]Participant, error) {
	if g != "" && !g.Valid() {
		return nil, validationf("unknown gender %q", g)
	}
	ps, err := s.store.Participants(ctx, ParticipantFilter{Gender: g})
	if err != nil {
		return nil, storageErr("list participants", err)
	}
	return ps, nil
}
