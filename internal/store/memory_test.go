package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kaisou/internal/domain"
	"kaisou/pkg/sentinel"
)

func testMunicipalities() []domain.Municipality {
	return []domain.Municipality{
		{
			JISCode:        "271004",
			Name:           "大阪市",
			PrefectureCode: "27",
			PrefectureName: "大阪府",
			PrefectureSlug: "osaka",
			Slug:           "osaka-shi",
			URL:            "https://www.city.osaka.lg.jp/kaisou",
			LinkStatus:     domain.LinkStatusOK,
			LinkType:       domain.LinkTypeGuide,
			IsPublished:    true,
		},
		{
			JISCode:        "272078",
			Name:           "高槻市",
			PrefectureCode: "27",
			PrefectureName: "大阪府",
			PrefectureSlug: "osaka",
			Slug:           "takatsuki-shi",
			PDFURL:         "https://www.city.takatsuki.lg.jp/kaisou.pdf",
			LinkStatus:     domain.LinkStatusPDFOnly,
			LinkType:       domain.LinkTypePDF,
			IsPublished:    true,
		},
		{
			JISCode:        "131016",
			Name:           "千代田区",
			PrefectureCode: "13",
			PrefectureName: "東京都",
			PrefectureSlug: "tokyo",
			Slug:           "chiyoda-ku",
			LinkStatus:     domain.LinkStatusUnknown,
			LinkType:       domain.LinkTypeNone,
		},
	}
}

type MemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *Memory
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemory()
	s.Require().NoError(s.store.Seed(s.ctx, testMunicipalities()))
}

func (s *MemoryStoreSuite) TestSeed() {
	s.Run("list returns all entities ordered by jis code", func() {
		all, err := s.store.ListAll(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(all, 3)
		s.Equal("131016", all[0].JISCode)
		s.Equal("271004", all[1].JISCode)
		s.Equal("272078", all[2].JISCode)
	})

	s.Run("second seed is rejected", func() {
		err := s.store.Seed(s.ctx, testMunicipalities())
		s.ErrorIs(err, sentinel.ErrAlreadySeeded)
	})

	s.Run("duplicate jis code in batch writes nothing", func() {
		fresh := NewMemory()
		batch := []domain.Municipality{
			{JISCode: "011002", Name: "札幌市"},
			{JISCode: "011002", Name: "札幌市"},
		}
		err := fresh.Seed(s.ctx, batch)
		s.ErrorIs(err, sentinel.ErrConflict)

		all, listErr := fresh.ListAll(s.ctx)
		s.Require().NoError(listErr)
		s.Empty(all)
	})
}

func (s *MemoryStoreSuite) TestGetByJISCode() {
	m, err := s.store.GetByJISCode(s.ctx, "271004")
	s.Require().NoError(err)
	s.Equal("大阪市", m.Name)

	_, err = s.store.GetByJISCode(s.ctx, "999999")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestUpdateLinkCheck() {
	checkedAt := time.Date(2026, 2, 10, 3, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.UpdateLinkCheck(s.ctx, "271004", domain.LinkStatusBroken, checkedAt))

	m, err := s.store.GetByJISCode(s.ctx, "271004")
	s.Require().NoError(err)
	s.Equal(domain.LinkStatusBroken, m.LinkStatus)
	s.Require().NotNil(m.LastCheckedAt)
	s.True(m.LastCheckedAt.Equal(checkedAt))

	s.ErrorIs(s.store.UpdateLinkCheck(s.ctx, "999999", domain.LinkStatusOK, checkedAt), sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestUpdateLinks() {
	m, err := s.store.GetByJISCode(s.ctx, "131016")
	s.Require().NoError(err)

	m.URL = "https://www.city.chiyoda.lg.jp/kaisou"
	m.LinkStatus, m.LinkType, m.IsPublished = domain.DeriveLinkFields(m.URL, m.PDFURL)
	m.AppendNote("[reconcile 2026-02-10] previous url=null pdfUrl=null")
	s.Require().NoError(s.store.UpdateLinks(s.ctx, m))

	got, err := s.store.GetByJISCode(s.ctx, "131016")
	s.Require().NoError(err)
	s.Equal(domain.LinkStatusOK, got.LinkStatus)
	s.Equal(domain.LinkTypeGuide, got.LinkType)
	s.True(got.IsPublished)
	s.Contains(got.Notes, "previous url=null")
}

func (s *MemoryStoreSuite) TestArchiveAndDelete() {
	s.Require().NoError(s.store.ArchiveAndDelete(s.ctx, "272078", "merged into neighboring city"))

	_, err := s.store.GetByJISCode(s.ctx, "272078")
	s.ErrorIs(err, sentinel.ErrNotFound)

	archives := s.store.ListArchives()
	s.Require().Len(archives, 1)
	s.Equal("272078", archives[0].JISCode)
	s.Equal("merged into neighboring city", archives[0].Reason)
	s.False(archives[0].ArchivedAt.IsZero())

	s.ErrorIs(s.store.ArchiveAndDelete(s.ctx, "272078", "again"), sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestRunLifecycle() {
	run := domain.LinkCheckRun{ID: "run-1", Status: domain.RunStatusRunning, StartedAt: time.Now()}
	s.Require().NoError(s.store.CreateRun(s.ctx, run))

	s.Run("duplicate run id conflicts", func() {
		s.ErrorIs(s.store.CreateRun(s.ctx, run), sentinel.ErrConflict)
	})

	s.Run("finalize transitions once", func() {
		s.Require().NoError(s.store.FinalizeRun(s.ctx, "run-1", domain.RunStatusSucceeded, 3, 1, "done"))

		got, err := s.store.GetRun(s.ctx, "run-1")
		s.Require().NoError(err)
		s.Equal(domain.RunStatusSucceeded, got.Status)
		s.Equal(3, got.TotalChecked)
		s.Equal(1, got.BrokenCount)
		s.NotNil(got.FinishedAt)
	})

	s.Run("finalizing a terminal run is invalid", func() {
		err := s.store.FinalizeRun(s.ctx, "run-1", domain.RunStatusFailed, 0, 0, "")
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("unknown run id", func() {
		s.ErrorIs(s.store.FinalizeRun(s.ctx, "run-x", domain.RunStatusFailed, 0, 0, ""), sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestLedger() {
	status := 404
	s.Require().NoError(s.store.AppendAuditLog(s.ctx, domain.AuditLog{
		RunID:      "run-1",
		JISCode:    "271004",
		TargetURL:  "https://www.city.osaka.lg.jp/kaisou",
		HTTPStatus: &status,
		Result:     "CLIENT_ERROR",
	}))
	s.Require().NoError(s.store.AppendAuditLog(s.ctx, domain.AuditLog{
		RunID: "run-2", JISCode: "272078", TargetURL: "x", Result: "OK",
	}))

	logs, err := s.store.ListAuditLogs(s.ctx, "run-1")
	s.Require().NoError(err)
	s.Require().Len(logs, 1)
	s.NotZero(logs[0].ID)
	s.Require().NotNil(logs[0].HTTPStatus)
	s.Equal(404, *logs[0].HTTPStatus)
	s.False(logs[0].CreatedAt.IsZero())

	s.Require().NoError(s.store.AppendRecoveryCandidate(s.ctx, domain.RecoveryCandidate{
		RunID: "run-1", JISCode: "271004", Prefecture: "大阪府", Municipality: "大阪市", Source: "linkcheck",
	}))
	rcs, err := s.store.ListRecoveryCandidates(s.ctx, "run-1")
	s.Require().NoError(err)
	s.Require().Len(rcs, 1)
	s.Equal(domain.CandidatePending, rcs[0].Status)
}

func (s *MemoryStoreSuite) TestCandidateStaging() {
	batch := []domain.Candidate{
		{BatchID: "b1", Prefecture: "大阪府", Municipality: "大阪市", URL: "https://example.lg.jp/a"},
		{BatchID: "b1", Prefecture: "東京都", Municipality: "千代田区", URL: "https://example.lg.jp/b"},
		{BatchID: "b2", Prefecture: "大阪府", Municipality: "高槻市", URL: "https://example.lg.jp/c"},
	}
	s.Require().NoError(s.store.StageCandidates(s.ctx, batch))

	s.Run("pending list filters by batch", func() {
		pending, err := s.store.ListPendingCandidates(s.ctx, "b1")
		s.Require().NoError(err)
		s.Len(pending, 2)
	})

	s.Run("empty batch id lists everything pending", func() {
		pending, err := s.store.ListPendingCandidates(s.ctx, "")
		s.Require().NoError(err)
		s.Len(pending, 3)
	})

	s.Run("status transition removes from pending", func() {
		pending, err := s.store.ListPendingCandidates(s.ctx, "b1")
		s.Require().NoError(err)
		s.Require().NoError(s.store.SetCandidateStatus(s.ctx, pending[0].ID, domain.CandidateApplied, ""))

		remaining, err := s.store.ListPendingCandidates(s.ctx, "b1")
		s.Require().NoError(err)
		s.Len(remaining, 1)
	})

	s.Run("unknown candidate id", func() {
		s.ErrorIs(s.store.SetCandidateStatus(s.ctx, 9999, domain.CandidateRejected, "x"), sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestRunInTxRollsBackOnError() {
	boom := errors.New("boom")
	err := s.store.RunInTx(s.ctx, func(tx Store) error {
		if err := tx.ArchiveAndDelete(s.ctx, "271004", "about to roll back"); err != nil {
			return err
		}
		if err := tx.UpdateLinkCheck(s.ctx, "272078", domain.LinkStatusBroken, time.Now()); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	m, getErr := s.store.GetByJISCode(s.ctx, "271004")
	s.Require().NoError(getErr)
	s.Equal("大阪市", m.Name)
	s.Empty(s.store.ListArchives())

	m, getErr = s.store.GetByJISCode(s.ctx, "272078")
	s.Require().NoError(getErr)
	s.Equal(domain.LinkStatusPDFOnly, m.LinkStatus)
}

func (s *MemoryStoreSuite) TestRunInTxCommits() {
	err := s.store.RunInTx(s.ctx, func(tx Store) error {
		return tx.ArchiveAndDelete(s.ctx, "131016", "committed")
	})
	s.Require().NoError(err)

	_, getErr := s.store.GetByJISCode(s.ctx, "131016")
	s.ErrorIs(getErr, sentinel.ErrNotFound)
	s.Len(s.store.ListArchives(), 1)
}
