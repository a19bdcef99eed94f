// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package submission

import (
	"fmt"

	"github.com/google/uuid"
)

func newID() string { return uuid.NewString() }

// submissionNumber formats the per-year submission sequence.
func submissionNumber(year, seq int) string {
	return fmt.Sprintf("SUB-%d-%04d", year, seq)
}

// protocolNumber formats the system-wide approved protocol sequence.
func protocolNumber(year, seq int) string {
	return fmt.Sprintf("HSIRB-%d-%04d", year, seq)
}

func amendmentNumber(protocol string, seq int) string {
	return fmt.Sprintf("%s-AMD-%02d", protocol, seq)
}

func submissionCounter(year int) string { return fmt.Sprintf("submission:%d", year) }

func protocolCounter(year int) string { return fmt.Sprintf("protocol:%d", year) }
