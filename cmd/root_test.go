package cmd

import (
	"context"
	"testing"

	"taxonomer/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestNeedsApp(t *testing.T) {
	assert.True(t, needsApp(classifyCmd))
	assert.True(t, needsApp(generationsListCmd))
	assert.False(t, needsApp(migrateCmd))
	assert.False(t, needsApp(migrateUpCmd), "children inherit the annotation")
}

func TestGetAppFromContextMissing(t *testing.T) {
	_, err := GetAppFromContext(context.Background())
	assert.Error(t, err)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "N/A", formatNullTime(nil, "2006"))
	assert.Equal(t, "-", getStringPtrValue(nil, "-"))
	msg := "boom"
	assert.Equal(t, "boom", getStringPtrValue(&msg, "-"))
	assert.Contains(t, colorStatus(models.TaskStatusFailed), string(models.TaskStatusFailed))
	assert.Equal(t, string(models.GenerationRetired), colorState(models.GenerationRetired))
}
