package cmd

import (
	"time"

	"taxonomer/internal/models"

	"github.com/fatih/color"
)

func colorStatus(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusSuccess:
		return color.GreenString(string(s))
	case models.TaskStatusFailed:
		return color.RedString(string(s))
	case models.TaskStatusRunning:
		return color.YellowString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func colorState(s models.GenerationState) string {
	switch s {
	case models.GenerationCurrent:
		return color.GreenString(string(s))
	case models.GenerationBuilding:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

// Helper function to safely get string from pointer or return default
func getStringPtrValue(ptr *string, def string) string {
	if ptr != nil {
		return *ptr
	}
	return def
}

// Helper function to format nullable time
func formatNullTime(t *time.Time, layout string) string {
	if t != nil {
		return t.Format(layout)
	}
	return "N/A"
}
