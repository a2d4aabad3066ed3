package envelope

import (
	"encoding/json"

	language "github.com/hanpama/subscribe/internal/language"
)

// Result is one pushed subscription payload.
type Result struct {
	Data       json.RawMessage    `json:"data,omitempty"`
	Errors     language.ErrorList `json:"errors,omitempty"`
	Extensions map[string]any     `json:"extensions,omitempty"`
}

// Observer receives the push events of one subscription.
type Observer interface {
	OnNext(payload Result)
	OnError(err error)
	OnCompleted(value any)
}

// ObserverFuncs implements Observer with optional callbacks.
type ObserverFuncs struct {
	Next      func(Result)
	Error     func(error)
	Completed func(any)
}

func (o ObserverFuncs) OnNext(payload Result) {
	if o.Next != nil {
		o.Next(payload)
	}
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

func (o ObserverFuncs) OnCompleted(value any) {
	if o.Completed != nil {
		o.Completed(value)
	}
}

// Nop discards every event.
var Nop Observer = ObserverFuncs{}
