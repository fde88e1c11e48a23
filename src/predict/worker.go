package predict

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

var ErrDispatcherStopped = errors.New("detection dispatcher stopped")

// Job holds the attributes needed to perform unit of work.
type Job struct {
	ctx    context.Context
	Image  image.Image
	result chan JobResult
}

type JobResult struct {
	Detections []datastructures.Detection
	Err        error
}

// NewWorker creates takes a numeric id and a channel w/ worker pool.
func NewWorker(id int, workerPool chan chan Job, predictor Predictor) Worker {
	return Worker{
		id:         id,
		jobQueue:   make(chan Job),
		workerPool: workerPool,
		quitChan:   make(chan bool),
		predictor:  predictor,
	}
}

type Worker struct {
	id         int
	jobQueue   chan Job
	workerPool chan chan Job
	quitChan   chan bool
	predictor  Predictor
}

func (w Worker) start(wg *sync.WaitGroup) {
	log.Debug("[Worker] Worker ", w.id, " starting")

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			// Add my jobQueue to the worker pool.
			w.workerPool <- w.jobQueue

			select {
			case job := <-w.jobQueue:
				// Dispatcher has added a job to my jobQueue.
				job.result <- w.process(job)

			case <-w.quitChan:
				// We have been asked to stop.
				log.Debug("[Worker] Worker ", w.id, " stopping")
				return
			}
		}
	}()
}

func (w Worker) process(job Job) JobResult {
	if err := job.ctx.Err(); err != nil {
		return JobResult{Err: err}
	}
	detections, err := w.predictor.Predict(job.ctx, job.Image)
	if err != nil {
		log.Debug("[Worker] Couldn't predict: ", err.Error())
		return JobResult{Err: commons.NewInferenceError(err)}
	}
	return JobResult{Detections: detections}
}

func (w Worker) stop() {
	close(w.quitChan)
}

// NewDispatcher creates, and returns a new Dispatcher object. All workers
// share the one loaded predictor.
func NewDispatcher(predictor Predictor, maxWorkers int, maxQueueSize int) *Dispatcher {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	workerPool := make(chan chan Job, maxWorkers)

	return &Dispatcher{
		jobQueue:   make(chan Job, maxQueueSize),
		maxWorkers: maxWorkers,
		workerPool: workerPool,
		predictor:  predictor,
		quit:       make(chan struct{}),
	}
}

type Dispatcher struct {
	workerPool chan chan Job
	maxWorkers int
	jobQueue   chan Job
	predictor  Predictor
	workers    []Worker
	quit       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func (d *Dispatcher) Run() {
	for i := 0; i < d.maxWorkers; i++ {
		worker := NewWorker(i+1, d.workerPool, d.predictor)
		worker.start(&d.wg)
		d.workers = append(d.workers, worker)
	}

	d.wg.Add(1)
	go d.dispatch()
}

// dispatch hands queued jobs to idle workers. It waits for a free worker
// before taking the next job, so a full jobQueue pushes back on Detect.
func (d *Dispatcher) dispatch() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.jobQueue:
			select {
			case workerJobQueue := <-d.workerPool:
				select {
				case workerJobQueue <- job:
				case <-d.quit:
					job.result <- JobResult{Err: ErrDispatcherStopped}
					return
				}
			case <-d.quit:
				job.result <- JobResult{Err: ErrDispatcherStopped}
				return
			}
		case <-d.quit:
			return
		}
	}
}

// Detect queues img for detection and waits for the result.
func (d *Dispatcher) Detect(ctx context.Context, img image.Image) ([]datastructures.Detection, error) {
	job := Job{ctx: ctx, Image: img, result: make(chan JobResult, 1)}

	select {
	case d.jobQueue <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.quit:
		return nil, ErrDispatcherStopped
	}

	select {
	case res := <-job.result:
		return res.Detections, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts the workers down. Jobs still queued fail with ErrDispatcherStopped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		for _, w := range d.workers {
			w.stop()
		}
		d.wg.Wait()

		for {
			select {
			case job := <-d.jobQueue:
				job.result <- JobResult{Err: ErrDispatcherStopped}
			default:
				return
			}
		}
	})
}
