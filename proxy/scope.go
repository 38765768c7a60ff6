package proxy

import (
	"sync"
)

//	Scope collects objects so that one deferred Close releases all of them,
//	newest first, on every exit path.
type Scope struct {
	mu      sync.Mutex
	objects []*Object
}

func NewScope() *Scope {
	return &Scope{}
}

func (s *Scope) Add(o *Object) *Object {
	if o == nil {
		return o
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = append(s.objects, o)
	return o
}

//	Adopt adds every Object in v, looking inside lists.
func (s *Scope) Adopt(v interface{}) interface{} {
	switch value := v.(type) {
	case *Object:
		s.Add(value)
	case []interface{}:
		for _, item := range value {
			s.Adopt(item)
		}
	}
	return v
}

func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

//	Close releases every object and returns the first error met.
func (s *Scope) Close() (err error) {
	s.mu.Lock()
	objects := s.objects
	s.objects = nil
	s.mu.Unlock()
	for i := len(objects) - 1; i >= 0; i-- {
		if releaseErr := objects[i].Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}
	return
}
