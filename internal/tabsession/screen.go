package tabsession

import "sync"

type Notice struct {
	Title   string
	Message string
}

// Recorder is a Screen that remembers what it was asked to show.
type Recorder struct {
	mu       sync.Mutex
	notices  []Notice
	location string
	visits   int
}

func NewRecorder() *Recorder {
	return &Recorder{location: SignInPath}
}

func (r *Recorder) Notify(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Title: title, Message: message})
}

func (r *Recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.location = path
	r.visits++
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func (r *Recorder) Location() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.location
}

// Navigations counts Navigate calls.
func (r *Recorder) Navigations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visits
}
