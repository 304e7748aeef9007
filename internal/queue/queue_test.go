package queue

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"image"
	"image/png"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
	"github.com/adverant/nexus/ocr-worker/internal/engine/enginetest"
	"github.com/adverant/nexus/ocr-worker/internal/executor"
	"github.com/adverant/nexus/ocr-worker/internal/langdata"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/worker"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

func newDispatcher(t *testing.T) *worker.Dispatcher {
	t.Helper()
	api := enginetest.NewAPI(enginetest.OneWord("Hello", 91))
	mod := enginetest.NewModule(api)
	session := engine.NewSession(mod.Loader(nil), logging.Discard())
	exec, err := executor.New(&executor.Config{
		Session:     session,
		Logger:      logging.Discard(),
		ValidatePDF: func([]byte) (int, error) { return 1, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	fetch := langdata.FetcherFunc(func(ctx context.Context, code string, opts langdata.Options) ([]byte, error) {
		return []byte("traineddata:" + code), nil
	})
	disp, err := worker.NewDispatcher(&worker.Config{
		Session:  session,
		Cache:    langdata.NewCache(fetch, logging.Discard()),
		Executor: exec,
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return disp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 16))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestKeys(t *testing.T) {
	k := Keys{Queue: "ocr:jobs"}
	tests := map[string]string{
		k.List():       "ocr:jobs",
		k.Data():       "ocr:jobs:data",
		k.Processing(): "ocr:jobs:processing",
		k.Completed():  "ocr:jobs:completed",
		k.Failed():     "ocr:jobs:failed",
		k.Results():    "ocr:jobs:results",
		k.Errors():     "ocr:jobs:errors",
		k.Events():     "ocr:jobs:events",
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("key = %s, want %s", got, want)
		}
	}
}

func TestEventMessageJSON(t *testing.T) {
	msg := EventMessage{
		Event:     worker.Event{JobID: "j1", Action: worker.ActionDetect, Status: worker.StatusReject, Data: "Failed to detect OS"},
		Timestamp: "2024-01-01T00:00:00Z",
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"jobId":"j1","action":"detect","status":"reject","data":"Failed to detect OS","timestamp":"2024-01-01T00:00:00Z"}`
	if string(data) != want {
		t.Errorf("json = %s\nwant %s", data, want)
	}

	ev, err := decodeEvent(string(data))
	if err != nil {
		t.Fatal(err)
	}
	if ev.JobID != "j1" || !ev.Terminal() || ev.Data != "Failed to detect OS" {
		t.Errorf("decoded = %+v", ev)
	}
}

func TestFollowFiltersByJob(t *testing.T) {
	ch := make(chan *redis.Message, 4)
	for _, payload := range []string{
		`{"jobId":"other","status":"resolve","data":{}}`,
		`not json`,
		`{"jobId":"j1","status":"progress","data":{"status":"recognizing text","progress":0.5}}`,
		`{"jobId":"j1","status":"resolve","data":{"text":"Hello"}}`,
	} {
		ch <- &redis.Message{Payload: payload}
	}

	var seen []worker.Status
	ev, err := follow(context.Background(), ch, "j1", func(e EventMessage) { seen = append(seen, e.Status) })
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != worker.StatusResolve {
		t.Errorf("terminal = %+v", ev)
	}
	if len(seen) != 2 || seen[0] != worker.StatusProgress {
		t.Errorf("seen = %v", seen)
	}
}

func TestFollowContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := follow(ctx, make(chan *redis.Message), "j1", nil); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("follow() error = %v", err)
	}

	ch := make(chan *redis.Message)
	close(ch)
	if _, err := follow(context.Background(), ch, "j1", nil); err == nil {
		t.Error("expected error on closed channel")
	}
}

func TestNewTask(t *testing.T) {
	job := &worker.Job{Action: worker.ActionDetect, Payload: worker.Payload{Image: []byte{1, 2}}}
	task, err := NewTask(job)
	if err != nil {
		t.Fatal(err)
	}
	if task.Type() != TaskDetect {
		t.Errorf("type = %s", task.Type())
	}
	if job.ID == "" {
		t.Error("job id was not assigned")
	}

	decoded, err := worker.DecodeJob(task.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if decoded.ID != job.ID || !bytes.Equal(decoded.Payload.Image, []byte{1, 2}) {
		t.Errorf("decoded = %+v", decoded)
	}

	if _, err := NewTask(&worker.Job{Action: "nope"}); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestAsynqHandleJob(t *testing.T) {
	c := &AsynqConsumer{dispatcher: newDispatcher(t), logger: logging.Discard()}

	task, err := NewTask(&worker.Job{ID: "a1", Action: worker.ActionRecognize, Payload: worker.Payload{Image: pngBytes(t)}})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.handleJob(context.Background(), task); err != nil {
		t.Errorf("handleJob() error = %v", err)
	}

	bad := asynq.NewTask(TaskRecognize, []byte(`{"jobId":"a2","action":"nope","payload":{}}`))
	err = c.handleJob(context.Background(), bad)
	if !stderrors.Is(err, asynq.SkipRetry) {
		t.Fatalf("handleJob() error = %v, want SkipRetry", err)
	}
	if !strings.Contains(err.Error(), "unknown action: nope") {
		t.Errorf("error = %v", err)
	}
}

func TestTerminalRecorder(t *testing.T) {
	var r terminalRecorder
	if _, ok := r.get(); ok {
		t.Error("empty recorder reported an event")
	}
	r.Send(context.Background(), worker.Event{JobID: "j", Status: worker.StatusProgress})
	if _, ok := r.get(); ok {
		t.Error("progress must not be recorded")
	}
	r.Send(context.Background(), worker.Event{JobID: "j", Status: worker.StatusResolve})
	if e, ok := r.get(); !ok || e.Status != worker.StatusResolve {
		t.Errorf("get() = %+v, %v", e, ok)
	}
}

func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	queue := "ocr:test:" + NewJobID()

	consumer, err := NewRedisConsumer(&RedisConsumerConfig{
		RedisURL:     url,
		QueueName:    queue,
		Dispatcher:   newDispatcher(t),
		PollInterval: time.Second,
		Logger:       logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewRedisConsumer() error = %v", err)
	}
	if err := consumer.Start(); err != nil {
		t.Fatal(err)
	}
	defer consumer.Stop()

	client, err := Connect(context.Background(), url, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	keys := Keys{Queue: queue}
	defer client.Del(context.Background(), keys.Data(), keys.Processing(), keys.Completed(), keys.Failed(), keys.Results(), keys.Errors())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	producer := NewProducer(client, queue, logging.Discard())

	var progress int
	ev, err := producer.Run(ctx, &worker.Job{Action: worker.ActionRecognize, Payload: worker.Payload{Image: pngBytes(t)}},
		func(e EventMessage) {
			if e.Status == worker.StatusProgress {
				progress++
			}
		})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ev.Status != worker.StatusResolve || progress == 0 {
		t.Errorf("terminal = %+v after %d progress events", ev, progress)
	}

	stats, err := consumer.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats["completed"] != 1 || stats["processing"] != 0 {
		t.Errorf("stats = %v", stats)
	}
	if ok, _ := client.HExists(ctx, keys.Results(), ev.JobID).Result(); !ok {
		t.Error("result was not stored")
	}
}

func TestMissingDocument(t *testing.T) {
	e := missingDocument("j1", redis.Nil)
	if e.JobID != "j1" || e.Status != worker.StatusReject || e.Data != "job document not found" {
		t.Errorf("event = %+v", e)
	}

	e = missingDocument("j2", stderrors.New("connection reset"))
	if reason, _ := e.Data.(string); !strings.Contains(reason, "connection reset") {
		t.Errorf("reason = %v", e.Data)
	}
}

func TestRedisMissingDocumentRejects(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	queue := "ocr:test:" + NewJobID()
	keys := Keys{Queue: queue}

	client, err := Connect(context.Background(), url, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	defer client.Del(context.Background(), keys.Data(), keys.Processing(), keys.Failed(), keys.Errors())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sub := client.Subscribe(ctx, keys.Events())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatal(err)
	}

	consumer, err := NewRedisConsumer(&RedisConsumerConfig{
		RedisURL:     url,
		QueueName:    queue,
		Dispatcher:   newDispatcher(t),
		PollInterval: time.Second,
		Logger:       logging.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := consumer.Start(); err != nil {
		t.Fatal(err)
	}
	defer consumer.Stop()

	jobID := NewJobID()
	if err := client.LPush(ctx, keys.List(), jobID).Err(); err != nil {
		t.Fatal(err)
	}
	ev, err := follow(ctx, sub.Channel(), jobID, nil)
	if err != nil {
		t.Fatalf("no terminal event: %v", err)
	}
	if ev.Status != worker.StatusReject {
		t.Errorf("terminal = %+v, want reject", ev)
	}
	if ok, _ := client.SIsMember(ctx, keys.Failed(), jobID).Result(); !ok {
		t.Error("job is not in the failed set")
	}
}
