package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/correlator-io/openlineage-playground/internal/emitter"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}

	w.messages = append(w.messages, msgs...)

	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true

	return nil
}

func TestKafkaTransport_KeysByFlow(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	writer := &fakeWriter{}
	tr := newKafkaWithWriter(writer, "lineage")

	ctx := context.Background()
	require.NoError(t, tr.Emit(ctx, testEvent(t, "parent-1", "")))
	require.NoError(t, tr.Emit(ctx, testEvent(t, "child-1", "parent-1")))

	require.Len(t, writer.messages, 2)
	assert.Equal(t, "parent-1", string(writer.messages[0].Key))
	assert.Equal(t, "parent-1", string(writer.messages[1].Key), "child events share the parent's partition")
	assert.Equal(t, "START", string(writer.messages[1].Headers[0].Value))

	decoded, err := lineage.Unmarshal(writer.messages[1].Value)
	require.NoError(t, err)
	assert.Equal(t, "child-1", decoded.Run.ID)

	require.NoError(t, tr.Close())
	assert.True(t, writer.closed)
}

func TestKafkaTransport_NestedFlowSharesOneKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	writer := &fakeWriter{}
	tr := newKafkaWithWriter(writer, "lineage")
	em := emitter.New(tr, emitter.WithIDGenerator(lineage.NewSequenceGenerator("run-")))

	ctx := context.Background()

	flowJob, err := lineage.NewJob("housing", "housing_regression_flow", nil)
	require.NoError(t, err)
	stepJob, err := lineage.NewJob("housing", "housing_regression_flow.prepare_data", nil)
	require.NoError(t, err)
	sqlJob, err := lineage.NewJob("housing", "housing_regression_flow.prepare_data.execute_sql.train", nil)
	require.NoError(t, err)

	run, err := em.NewRun(nil)
	require.NoError(t, err)

	flow, err := em.StartFlow(ctx, flowJob, run)
	require.NoError(t, err)

	require.NoError(t, flow.Step(ctx, emitter.StepSpec{
		Job:      stepJob,
		Duration: time.Minute,
		Children: func(ctx context.Context, step *emitter.Flow) error {
			return step.Step(ctx, emitter.StepSpec{Job: sqlJob, Duration: time.Second})
		},
	}))
	require.NoError(t, flow.Complete(ctx))

	require.Len(t, writer.messages, 6)

	for _, msg := range writer.messages {
		assert.Equal(t, flow.RunID(), string(msg.Key), "every event of the flow tree is keyed by its root run")
	}

	statement, err := lineage.Unmarshal(writer.messages[2].Value)
	require.NoError(t, err)
	assert.Equal(t, sqlJob.Name, statement.Job.Name)

	parentID, ok := statement.ParentRunID()
	require.True(t, ok)
	assert.NotEqual(t, flow.RunID(), parentID, "the statement's direct parent is the step")
}

func TestKafkaTransport_ErrorClassification(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		err       error
		retriable bool
	}{
		{name: "leader not available", err: kafka.LeaderNotAvailable, retriable: true},
		{name: "message too large", err: kafka.MessageSizeTooLarge, retriable: false},
		{name: "dial failure", err: errors.New("dial tcp: connection refused"), retriable: true},
		{name: "write errors", err: kafka.WriteErrors{kafka.MessageSizeTooLarge}, retriable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newKafkaWithWriter(&fakeWriter{err: tt.err}, "lineage")

			err := tr.Emit(context.Background(), testEvent(t, "run-1", ""))

			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, TypeKafka, te.Transport)
			assert.Equal(t, tt.retriable, te.Retriable)
		})
	}
}

func TestNewKafka_Config(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewKafka(KafkaConfig{}, nil)
	require.ErrorIs(t, err, ErrMissingBrokers)

	tr, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultKafkaTopic, tr.Topic())
	require.NoError(t, tr.Close())
}

func TestKafkaTransport_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("lineage-test"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	const topic = "openlineage.test"

	tr, err := NewKafka(KafkaConfig{Brokers: brokers, Topic: topic}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tr.Close()
	})

	emitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	event := testEvent(t, "child-1", "parent-1")

	// Auto topic creation can report a transient error on the first write.
	require.Eventually(t, func() bool {
		return tr.Emit(emitCtx, event) == nil
	}, 30*time.Second, 500*time.Millisecond)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MaxWait:   time.Second,
	})
	t.Cleanup(func() {
		_ = reader.Close()
	})

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()

	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)
	assert.Equal(t, "parent-1", string(msg.Key))

	decoded, err := lineage.Unmarshal(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "child-1", decoded.Run.ID)
}
