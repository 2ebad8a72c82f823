package proto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTripsEnvelope(t *testing.T) {
	c := gobCodec{}

	original := &Envelope{
		Type: MessageJobRequest,
		JobRequest: &JobRequest{
			JobDefinition: &JobDefinition{
				ID:       "job-1",
				Name:     "build",
				Command:  []string{"make", "build"},
				Deadline: time.Now().Truncate(time.Second).UTC(),
			},
			Config:            map[string]string{"env": "prod"},
			RequiredArtifacts: []string{"artifact-a", "artifact-b"},
		},
	}

	data, err := c.Marshal(original)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, c.Unmarshal(data, &decoded))

	assert.Equal(t, MessageJobRequest, decoded.Type)
	require.NotNil(t, decoded.JobRequest)
	require.NotNil(t, decoded.JobRequest.JobDefinition)
	assert.Equal(t, original.JobRequest.JobDefinition.ID, decoded.JobRequest.JobDefinition.ID)
	assert.Equal(t, original.JobRequest.JobDefinition.Command, decoded.JobRequest.JobDefinition.Command)
	assert.True(t, original.JobRequest.JobDefinition.Deadline.Equal(decoded.JobRequest.JobDefinition.Deadline))
	assert.Equal(t, original.JobRequest.RequiredArtifacts, decoded.JobRequest.RequiredArtifacts)
}

func TestCodecRoundTripsArtifactChunk(t *testing.T) {
	c := gobCodec{}

	original := &Envelope{
		Type: MessageArtifactChunk,
		ArtifactChunk: &ArtifactChunk{
			ArtifactID:   "artifact-a",
			Sequence:     3,
			Data:         []byte{1, 2, 3, 4},
			IsLast:       true,
			Compression:  "zstd",
			OriginalSize: 4096,
		},
	}

	data, err := c.Marshal(original)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, c.Unmarshal(data, &decoded))

	require.NotNil(t, decoded.ArtifactChunk)
	assert.Equal(t, *original.ArtifactChunk, *decoded.ArtifactChunk)
}
