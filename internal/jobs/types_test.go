package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusValid(t *testing.T) {
	for _, status := range AllStatuses {
		assert.True(t, status.Valid(), "status %s", status)
	}
	assert.False(t, Status("uploading").Valid())
	assert.False(t, Status("").Valid())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	for _, status := range []Status{StatusQueued, StatusProcessing, StatusUploaded, StatusTranscribing, StatusAnalyzing} {
		assert.False(t, status.Terminal(), "status %s", status)
	}
}

func TestStatusDisplay(t *testing.T) {
	tests := []struct {
		status  Status
		display DisplayStatus
	}{
		{StatusQueued, DisplayFetchingSource},
		{StatusProcessing, DisplayFetchingSource},
		{StatusUploaded, DisplayRemovingWatermark},
		{StatusTranscribing, DisplayTranscribingAudio},
		{StatusAnalyzing, DisplayGeneratingSohoVibe},
		{StatusCompleted, DisplayCompleted},
		{StatusFailed, DisplayFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.display, tt.status.Display(), "status %s", tt.status)
	}
	// Unknown statuses render as the earliest stage rather than breaking the UI.
	assert.Equal(t, DisplayFetchingSource, Status("mystery").Display())
}

func TestSourceDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		source  SourceDescriptor
		wantErr bool
	}{
		{
			name:   "valid direct upload",
			source: SourceDescriptor{Kind: SourceDirect, Key: "a/video.mp4"},
		},
		{
			name: "valid scrape",
			source: SourceDescriptor{
				Kind:        SourceScrape,
				Key:         "a/video.mp4",
				Platform:    "tiktok",
				OriginalURL: "https://tiktok.com/@u/video/1",
			},
		},
		{
			name:    "missing key",
			source:  SourceDescriptor{Kind: SourceDirect},
			wantErr: true,
		},
		{
			name:    "direct with original url",
			source:  SourceDescriptor{Kind: SourceDirect, Key: "a/v.mp4", OriginalURL: "https://x"},
			wantErr: true,
		},
		{
			name:    "scrape without original url",
			source:  SourceDescriptor{Kind: SourceScrape, Key: "a/v.mp4", Platform: "tiktok"},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			source:  SourceDescriptor{Kind: SourceKind("telegraph"), Key: "a/v.mp4"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.source.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDispatchPayloadValidate(t *testing.T) {
	valid := DispatchPayload{
		JobID:  "job-1",
		Action: ActionProcessVideo,
		Data:   DispatchData{FileID: "job-1", Key: "job-1/video.mp4"},
	}
	assert.NoError(t, valid.Validate())

	missingJob := valid
	missingJob.JobID = ""
	assert.ErrorIs(t, missingJob.Validate(), ErrInvalidPayload)

	missingAction := valid
	missingAction.Action = ""
	assert.ErrorIs(t, missingAction.Validate(), ErrInvalidPayload)

	missingKey := valid
	missingKey.Data.Key = ""
	assert.ErrorIs(t, missingKey.Validate(), ErrInvalidPayload)
}
