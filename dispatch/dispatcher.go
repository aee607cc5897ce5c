// Package dispatch schedules a package tree's jobs across a pool of
// container endpoints, turning a built Tree into a scheduled execution
// plan: topological admission, endpoint assignment, backpressure, artifact
// ingestion, log parsing, persistence, and cancellation.
//
// Adapted from the teacher's Compilator.Compile/compileJob.Run: the
// doneCh/killCh/signalDependencies[fingerprint] wait-for-deps pattern is
// reused almost verbatim, generalized from one local docker daemon to a
// pool of remote endpoints, each with its own concurrency budget.
package dispatch

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/SUSE/stampy"
	"github.com/cenkalti/backoff/v4"
	workerLib "github.com/jimmysawczuk/worker"
	"github.com/pborman/uuid"

	"github.com/buildorch/butido/endpoint"
	"github.com/buildorch/butido/filestore"
	"github.com/buildorch/butido/job"
	"github.com/buildorch/butido/logparse"
	"github.com/buildorch/butido/recipe"
	"github.com/buildorch/butido/tree"
	"github.com/buildorch/butido/util"
)

// EnvVar is a literal environment variable attached to a job's persisted
// record, following the insertion-ordered JobEnv join in spec.md §3.
type EnvVar struct {
	Name  string
	Value string
}

// JobRecord is what the Dispatcher hands to the Recorder once a node
// reaches a terminal state: the persistence projection of a RunnableJob.
type JobRecord struct {
	SubmitUUID     string
	JobUUID        string
	Package        recipe.Package
	ImageName      string
	Endpoint       string
	ContainerHash  string
	ScriptText     string
	LogText        string
	State          State
	Cause          string
	Ambiguous      bool
	Envs           []EnvVar

	// RecordErr is set when the Recorder rejected this record; it is never
	// persisted itself, only surfaced back through Result.Records.
	RecordErr error
}

// Recorder is the persistence surface the Dispatcher writes through.
// Database access is modeled only as the set of record operations the
// core needs; db.Recorder satisfies this interface.
type Recorder interface {
	RecordJob(ctx context.Context, rec JobRecord) error
}

// NullRecorder discards every record; useful for dry runs and tests.
type NullRecorder struct{}

func (NullRecorder) RecordJob(context.Context, JobRecord) error { return nil }

// Result is the outcome of one submit: every node's terminal state plus an
// aggregate verdict.
type Result struct {
	SubmitUUID string
	States     map[tree.NodeId]State
	Records    map[tree.NodeId]JobRecord
}

// Verdict summarizes a Result: Success iff every node Succeeded.
func (r *Result) Verdict() State {
	worst := Succeeded
	for _, s := range r.States {
		switch s {
		case Errored:
			return Errored
		case Cancelled:
			worst = Cancelled
		case Skipped:
			if worst != Cancelled {
				worst = Skipped
			}
		case UnknownVerdict:
			if worst == Succeeded {
				worst = UnknownVerdict
			}
		}
	}
	return worst
}

// Dispatcher schedules runnable jobs across endpoints with backpressure,
// progress reporting, and cancellation.
type Dispatcher struct {
	Endpoints  *endpoint.Pool
	Jobs       *job.Builder
	Stores     *filestore.MergedStores
	Recorder   Recorder
	Progress   ProgressSink
	MetricsPath string

	// MaxInFlight bounds the total number of jobs running across all
	// endpoints at once. Zero means unbounded.
	MaxInFlight int
	// JobTimeout bounds a single job's total runtime; zero means no
	// per-job timeout beyond the submit's own context.
	JobTimeout time.Duration
	// MaxRetries bounds endpoint-dispatch retries (network/daemon
	// faults) before a job is reported Errored with cause "dispatch".
	MaxRetries int

	UnknownPolicy UnknownPolicy

	// Warn receives a human-readable line whenever a terminal record fails
	// to persist; nil discards the warning, the way NullRecorder discards
	// the record itself.
	Warn job.Warner
}

type nodeState struct {
	mu    sync.Mutex
	state State
	cause string
}

// Submit schedules tr's jobs against image under submitUUID, blocking until
// every node reaches a terminal state or ctx is cancelled. submitUUID must
// already be recorded (the caller's submits row) before Submit is called;
// every JobRecord is stamped with it so db.RecordJob's FK lookup resolves.
// Cancelling ctx trips the submit's single cancellation signal: no new jobs
// are dispatched, in-flight jobs are asked to stop, and any TAR already
// received is still ingested.
func (d *Dispatcher) Submit(ctx context.Context, submitUUID string, tr *tree.Tree, image string) (*Result, error) {
	nodes := tr.TopologicalOrder() // leaves first

	states := make(map[tree.NodeId]*nodeState, len(nodes))
	signal := make(map[tree.NodeId]chan struct{}, len(nodes))
	for _, id := range nodes {
		states[id] = &nodeState{state: Pending}
		signal[id] = make(chan struct{})
	}

	d.Progress.StartSubmit(submitUUID, len(nodes))
	defer d.Progress.Close()

	var wg sync.WaitGroup

	worker := workerLib.NewWorker()
	if d.MaxInFlight > 0 {
		workerLib.MaxJobs = d.MaxInFlight
	}

	var recordsMu sync.Mutex
	records := make(map[tree.NodeId]JobRecord, len(nodes))

	for _, id := range nodes {
		id := id
		wg.Add(1)
		worker.Add(dispatchJob{
			run: func() {
				defer wg.Done()
				defer d.Progress.TickSubmit(submitUUID)
				d.runNode(ctx, submitUUID, tr, id, image, states, signal, &recordsMu, records)
			},
		})
	}

	done := make(chan struct{})
	go func() {
		worker.RunUntilDone()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		<-done
	}
	wg.Wait()

	result := &Result{SubmitUUID: submitUUID, States: make(map[tree.NodeId]State), Records: make(map[tree.NodeId]JobRecord)}
	for _, id := range nodes {
		states[id].mu.Lock()
		result.States[id] = states[id].state
		states[id].mu.Unlock()
	}
	recordsMu.Lock()
	for id, rec := range records {
		result.Records[id] = rec
	}
	recordsMu.Unlock()
	return result, nil
}

// dispatchJob adapts a closure to the teacher's workerLib.Package Run()
// contract (github.com/jimmysawczuk/worker).
type dispatchJob struct {
	run func()
}

func (j dispatchJob) Run() { j.run() }

// runNode waits for id's children to reach a terminal state, then either
// propagates Skipped/Cancelled or dispatches id's own job.
func (d *Dispatcher) runNode(
	ctx context.Context,
	submitUUID string,
	tr *tree.Tree,
	id tree.NodeId,
	image string,
	states map[tree.NodeId]*nodeState,
	signal map[tree.NodeId]chan struct{},
	recordsMu *sync.Mutex,
	records map[tree.NodeId]JobRecord,
) {
	node := tr.Node(id)

	poisoned := false
	var cause string
	for _, childID := range tr.Dependencies(id) {
		select {
		case <-signal[childID]:
		case <-ctx.Done():
			d.setState(states[id], Cancelled, "submit cancelled")
			d.record(ctx, id, submitUUID, node.Package, image, JobRecord{
				JobUUID: uuid.New(),
				State:   Cancelled,
				Cause:   "submit cancelled",
			}, recordsMu, records)
			close(signal[id])
			return
		}
		states[childID].mu.Lock()
		childState, childCause := states[childID].state, states[childID].cause
		states[childID].mu.Unlock()
		if childState != Succeeded {
			poisoned = true
			if cause == "" {
				cause = fmt.Sprintf("ancestor of failed dependency %s=%s (%s)", tr.Node(childID).Package.Name, tr.Node(childID).Package.Version, childState)
				if childCause != "" {
					cause = fmt.Sprintf("%s: %s", cause, childCause)
				}
			}
		}
	}

	if poisoned {
		d.setState(states[id], Skipped, cause)
		d.record(ctx, id, submitUUID, node.Package, image, JobRecord{
			JobUUID: uuid.New(),
			State:   Skipped,
			Cause:   cause,
		}, recordsMu, records)
		close(signal[id])
		return
	}

	select {
	case <-ctx.Done():
		d.setState(states[id], Cancelled, "submit cancelled before dispatch")
		d.record(ctx, id, submitUUID, node.Package, image, JobRecord{
			JobUUID: uuid.New(),
			State:   Cancelled,
			Cause:   "submit cancelled before dispatch",
		}, recordsMu, records)
		close(signal[id])
		return
	default:
	}

	resolved := make(map[recipe.PackageName]recipe.PackageVersion, len(node.Children))
	for _, childID := range node.Children {
		child := tr.Node(childID).Package
		resolved[child.Name] = child.Version
	}

	d.setState(states[id], Ready, "")
	rec := d.dispatchOne(ctx, submitUUID, image, node.Package, resolved)
	d.setState(states[id], rec.State, rec.Cause)
	d.record(ctx, id, submitUUID, node.Package, image, rec, recordsMu, records)
	close(signal[id])
}

func (d *Dispatcher) setState(ns *nodeState, s State, cause string) {
	ns.mu.Lock()
	ns.state = s
	ns.cause = cause
	ns.mu.Unlock()
}

// record persists rec through d.Recorder and stashes the outcome (including
// any error) under id so Submit can surface it on the returned Result; a
// record failure is never fatal to the submit as a whole.
func (d *Dispatcher) record(ctx context.Context, id tree.NodeId, submitUUID string, pkg recipe.Package, image string, rec JobRecord, recordsMu *sync.Mutex, records map[tree.NodeId]JobRecord) {
	rec.SubmitUUID = submitUUID
	rec.Package = pkg
	rec.ImageName = image

	if d.Recorder != nil {
		if err := d.Recorder.RecordJob(ctx, rec); err != nil {
			rec.RecordErr = err
			if d.Warn != nil {
				d.Warn.Warnf("dispatch: recording job %s=%s: %v", pkg.Name, pkg.Version, err)
			}
		}
	}

	recordsMu.Lock()
	records[id] = rec
	recordsMu.Unlock()
}

// dispatchOne builds the node's RunnableJob, picks an endpoint (waiting on
// backpressure), runs the container with retry-on-transient-fault, ingests
// its output, and parses its log into a verdict.
func (d *Dispatcher) dispatchOne(ctx context.Context, submitUUID string, image string, pkg recipe.Package, resolved map[recipe.PackageName]recipe.PackageVersion) JobRecord {
	rec := JobRecord{JobUUID: uuid.New(), State: Dispatched, ImageName: image, Package: pkg}

	rj, err := d.Jobs.Build(pkg, image, resolved)
	if err != nil {
		rec.State = Errored
		rec.Cause = fmt.Sprintf("job build: %v", err)
		return rec
	}
	rec.JobUUID = rj.UUID
	rec.ScriptText = rj.Script.Text
	rec.Ambiguous = len(rj.Ambiguous) > 0
	for _, r := range rj.EnvVars {
		rec.Envs = append(rec.Envs, EnvVar{Name: r.EnvName, Value: r.EnvValue})
	}

	ep, ok := d.waitForEndpoint(ctx, image)
	if !ok {
		rec.State = Cancelled
		rec.Cause = "submit cancelled while waiting for an endpoint"
		return rec
	}
	defer ep.Release()
	rec.Endpoint = ep.Name()

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if d.JobTimeout > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, d.JobTimeout)
		defer cancelTimeout()
	}

	if d.MetricsPath != "" {
		series := fmt.Sprintf("butido::%s/%s", pkg.Name, pkg.Version)
		stampy.Stamp(d.MetricsPath, "butido", series, "start")
		defer stampy.Stamp(d.MetricsPath, "butido", series, "done")
	}

	inputTar, err := d.buildInputArchive(rj)
	if err != nil {
		rec.State = Errored
		rec.Cause = fmt.Sprintf("building input archive: %v", err)
		return rec
	}

	var result endpoint.RunResult
	container := util.SanitizeName(fmt.Sprintf("butido-%s-%s-%s", pkg.Name, pkg.Version, rj.UUID))
	err = d.retryDispatch(runCtx, func() error {
		var runErr error
		result, runErr = ep.Run(runCtx, endpoint.RunOpts{
			ContainerName: container,
			ImageName:     image,
			Cmd:           []string{"/bin/sh", "/butido/script.sh"},
			StreamIn:      bytes.NewReader(inputTar),
			StreamInPath:  "/butido",
		}, "/butido/out")
		return runErr
	})

	if runCtx.Err() != nil && err != nil {
		rec.State = Cancelled
		rec.Cause = "job timed out or submit cancelled"
		if result.OutputArchive != nil {
			d.ingest(rj.UUID, result.OutputArchive)
		}
		return rec
	}
	if err != nil {
		rec.State = Errored
		rec.Cause = fmt.Sprintf("dispatch: %v", err)
		return rec
	}

	rec.ContainerHash = result.ContainerID
	defer ep.RemoveContainer(context.Background(), result.ContainerID)

	var logBuf bytes.Buffer
	if result.OutputArchive != nil {
		defer result.OutputArchive.Close()
		if _, err := d.ingestAndLog(rj.UUID, result.OutputArchive, &logBuf); err != nil {
			rec.State = Errored
			rec.Cause = fmt.Sprintf("ingesting output: %v", err)
			return rec
		}
	}

	parsed := logparse.Parse(bytes.NewReader(logBuf.Bytes()))
	rec.LogText = logBuf.String()

	switch parsed.Verdict {
	case logparse.Success:
		if result.ExitCode != 0 {
			rec.State = Errored
			rec.Cause = fmt.Sprintf("container exited %d despite OK marker", result.ExitCode)
			return rec
		}
		rec.State = Succeeded
	case logparse.Errored:
		rec.State = Errored
		rec.Cause = "build container reported an error marker"
	default:
		rec.State = UnknownVerdict
		rec.Cause = "log parsed to an unknown verdict"
	}
	return rec
}

// waitForEndpoint blocks until an endpoint qualifies for image or ctx is
// cancelled, polling at a fixed interval between attempts — the
// backpressure event tied to any in-flight job completing.
func (d *Dispatcher) waitForEndpoint(ctx context.Context, image string) (*endpoint.Endpoint, bool) {
	for {
		if ep, ok := d.Endpoints.Choose(image); ok {
			return ep, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// retryDispatch retries fn with exponential backoff up to MaxRetries times,
// the EndpointError policy from spec.md §7: transient faults are retried
// before escalating to Errored.
func (d *Dispatcher) retryDispatch(ctx context.Context, fn func() error) error {
	if d.MaxRetries <= 0 {
		return fn()
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.MaxRetries))
	return backoff.Retry(fn, backoff.WithContext(bo, ctx))
}

func (d *Dispatcher) ingest(jobID string, r io.ReadCloser) {
	defer r.Close()
	var discard bytes.Buffer
	_, _ = d.ingestAndLog(jobID, r, &discard)
}

// ingestAndLog ingests archive into staging and, if it carries a
// "build.log" entry, copies that entry's content into logOut.
func (d *Dispatcher) ingestAndLog(jobID string, archive io.Reader, logOut *bytes.Buffer) ([]string, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(archive); err != nil {
		return nil, err
	}

	tr := tar.NewReader(bytes.NewReader(buf.Bytes()))
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		if path.Base(hdr.Name) == "build.log" {
			_, _ = logOut.ReadFrom(tr)
		}
	}

	return d.Stores.Staging.WriteFilesFromTarStream(bytes.NewReader(buf.Bytes()), jobID)
}

// buildInputArchive stages every resolved dependency artifact into a fresh
// local build root (job.RunnableJob.StageInto), then renders a TAR
// containing the job's script at script.sh and the staged deps/ tree —
// the wire format the container's CopyToContainer expects.
func (d *Dispatcher) buildInputArchive(rj *job.RunnableJob) ([]byte, error) {
	buildRoot, err := os.MkdirTemp("", "butido-build-")
	if err != nil {
		return nil, fmt.Errorf("dispatch: creating build root: %w", err)
	}
	defer os.RemoveAll(buildRoot)

	if err := rj.StageInto(d.Stores, buildRoot); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := tar.NewWriter(&buf)

	script := []byte(rj.Script.Text)
	if err := w.WriteHeader(&tar.Header{Name: "script.sh", Mode: 0o755, Size: int64(len(script))}); err != nil {
		return nil, err
	}
	if _, err := w.Write(script); err != nil {
		return nil, err
	}

	depsDir := filepath.Join(buildRoot, "deps")
	err = filepath.Walk(depsDir, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(buildRoot, p)
		if relErr != nil {
			return relErr
		}
		f, openErr := os.Open(p)
		if openErr != nil {
			return openErr
		}
		defer f.Close()
		if hdrErr := w.WriteHeader(&tar.Header{Name: filepath.ToSlash(rel), Mode: 0o644, Size: info.Size()}); hdrErr != nil {
			return hdrErr
		}
		_, copyErr := io.Copy(w, f)
		return copyErr
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("dispatch: archiving staged deps: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
