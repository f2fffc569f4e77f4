package worker

import (
	"context"
	"errors"
	"testing"

	"warranty_worker/core/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessorMarksSuccessfulEmail(t *testing.T) {
	mailbox := &fakeMailbox{}
	claims := newFakeClaims("m1")
	results := &fakeResults{}
	p := NewProcessor(pipelineFunc(succeed), mailbox, claims, results, zerolog.Nop())

	require.NoError(t, p.HandleEmail(context.Background(), email("m1")))

	assert.Equal(t, []string{"m1"}, mailbox.Processed())
	assert.Empty(t, claims.released)
	require.Len(t, results.saved, 1)
	assert.True(t, results.saved[0].Success)
}

func TestProcessorReleasesFailedEmail(t *testing.T) {
	mailbox := &fakeMailbox{}
	claims := newFakeClaims("m1")
	results := &fakeResults{}
	p := NewProcessor(failAt(domain.StepSendEmail), mailbox, claims, results, zerolog.Nop())

	require.NoError(t, p.HandleEmail(context.Background(), email("m1")))

	assert.Empty(t, mailbox.Processed())
	assert.Equal(t, []string{"m1"}, claims.released)
	require.Len(t, results.saved, 1)
	assert.Equal(t, domain.StepSendEmail, results.saved[0].FailedStep)
}

func TestProcessorReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claims := newFakeClaims("m1")
	p := NewProcessor(failAt(domain.StepGenerateResponse), &fakeMailbox{}, claims, nil, zerolog.Nop())

	err := p.HandleEmail(ctx, email("m1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"m1"}, claims.released)
}

func TestProcessorToleratesStorageErrors(t *testing.T) {
	mailbox := &fakeMailbox{}
	results := &fakeResults{err: errors.New("db down")}
	p := NewProcessor(pipelineFunc(succeed), mailbox, newFakeClaims(), results, zerolog.Nop())

	require.NoError(t, p.HandleEmail(context.Background(), email("m1")))
	assert.Equal(t, []string{"m1"}, mailbox.Processed())
}

func TestProcessorKeepsClaimWhenMarkFails(t *testing.T) {
	claims := newFakeClaims("m1")
	p := NewProcessor(pipelineFunc(succeed), &fakeMailbox{markErr: errors.New("gmail 503")}, claims, nil, zerolog.Nop())

	require.NoError(t, p.HandleEmail(context.Background(), email("m1")))
	assert.Empty(t, claims.released)
}
