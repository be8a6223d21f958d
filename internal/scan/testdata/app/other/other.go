package other

import "time"

type Clock interface{ Now() time.Time }

type Handler interface{ Serve() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

//inject:provider scope=App
func NewClock() Clock { return systemClock{} }
