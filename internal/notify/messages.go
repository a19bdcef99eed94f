// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package notify

import (
	"fmt"
	"strings"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// EvidenceAlert builds the message sent when a study's evidence first
// reaches its threshold.
func EvidenceAlert(study types.Study, n int, siteURL string) (subject, body string) {
	var value float64
	if study.CurrentEvidence != nil {
		value = *study.CurrentEvidence
	}
	subject = fmt.Sprintf("Bayesian Monitoring Alert: %s", study.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello,\n\n")
	fmt.Fprintf(&b, "The sequential Bayesian monitoring for your study %q has reached the threshold.\n\n", study.Title)
	fmt.Fprintf(&b, "Current Bayes Factor: %.2f\n", value)
	fmt.Fprintf(&b, "Threshold: %g\n", study.Monitoring.Threshold)
	fmt.Fprintf(&b, "Sample Size: %d\n\n", n)
	fmt.Fprintf(&b, "The hypothesis is now supported with a BF >= %g.\n", study.Monitoring.Threshold)
	if siteURL != "" {
		fmt.Fprintf(&b, "\nView study: %s/studies/%s/\n", strings.TrimRight(siteURL, "/"), study.ID)
	}
	return subject, b.String()
}

// SubmissionNotice builds the message sent to the assigned reviewing
// authorities when a protocol is submitted.
func SubmissionNotice(sub types.ProtocolSubmission, study types.Study, siteURL string) (subject, body string) {
	subject = fmt.Sprintf("[HSIRB] New protocol submission: %s", study.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "A protocol has been submitted for IRB review.\n\n")
	fmt.Fprintf(&b, "Study: %s\n", study.Title)
	fmt.Fprintf(&b, "Submission: %s (version %d)\n", sub.SubmissionNumber, sub.Version)
	fmt.Fprintf(&b, "Review type: %s\n", sub.ReviewType)
	if sub.InvolvesDeception {
		fmt.Fprintf(&b, "Involves deception: yes\n")
	}
	if sub.NeedsManualAssignment {
		fmt.Fprintf(&b, "Routing: needs manual assignment (%s)\n", sub.RoutingNotes)
	}
	if siteURL != "" {
		fmt.Fprintf(&b, "\nReview: %s/submissions/%s/\n", strings.TrimRight(siteURL, "/"), sub.ID)
	}
	return subject, b.String()
}
