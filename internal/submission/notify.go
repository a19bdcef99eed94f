// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package submission

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdiddy/irb-engine/internal/notify"
	"github.com/pdiddy/irb-engine/internal/store"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// NotifyHandler returns the job handler that tells a submission's reviewing
// authorities it arrived. Dispatch failures are logged and swallowed so the
// job is not retried into duplicate messages.
func (s *Service) NotifyHandler(d notify.Dispatcher, siteURL string) func(context.Context, types.Job) error {
	return func(ctx context.Context, job types.Job) error {
		sub, err := s.store.Submission(ctx, job.TargetID)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("notification for missing submission", "submission", job.TargetID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading submission %s: %w", job.TargetID, err)
		}
		study, err := s.store.Study(ctx, sub.StudyID)
		if err != nil {
			return fmt.Errorf("loading study %s: %w", sub.StudyID, err)
		}

		var recipients []string
		for _, id := range append([]string{sub.CollegeRepID, sub.ChairID}, sub.ReviewerIDs...) {
			if id == "" {
				continue
			}
			u, err := s.store.User(ctx, id)
			if err != nil {
				s.logger.Warn("skipping unknown recipient", "user", id, "error", err)
				continue
			}
			recipients = append(recipients, u.Email)
		}
		if len(recipients) == 0 {
			admins, err := s.store.UsersByRole(ctx, types.RoleAdmin)
			if err != nil {
				return err
			}
			for _, u := range admins {
				recipients = append(recipients, u.Email)
			}
		}

		subject, body := notify.SubmissionNotice(sub, study, siteURL)
		n, err := d.Send(ctx, recipients, subject, body)
		s.metrics.Notification(ctx, "submission", err == nil && n > 0)
		if err != nil {
			s.logger.Warn("submission notification failed", "submission", sub.ID, "error", err)
			return nil
		}
		s.logger.Info("submission notification sent", "submission", sub.ID, "recipients", n)
		return nil
	}
}
