package comptree

// Observer is told about every component an engine constructs or destroys.
// Calls happen on the goroutine running the request or the destruction.
type Observer interface {
	ComponentCreated(inst *Instance)
	ComponentDestroyed(inst *Instance)
}

// ObserverFuncs adapts functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Created   func(inst *Instance)
	Destroyed func(inst *Instance)
}

func (o ObserverFuncs) ComponentCreated(inst *Instance) {
	if o.Created != nil {
		o.Created(inst)
	}
}

func (o ObserverFuncs) ComponentDestroyed(inst *Instance) {
	if o.Destroyed != nil {
		o.Destroyed(inst)
	}
}
