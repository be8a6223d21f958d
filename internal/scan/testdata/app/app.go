package app

import "example.com/app/other"

//inject:scope
type Singleton struct{}

//inject:scope parent=Singleton
type Activity struct{}

//inject:scope alias=Singleton
type App struct{}

type Config struct {
	DSN string
}

type Database struct{}

type Plugin interface{ Name() string }

//inject:provider
func NewConfig() Config { return Config{} }

//inject:provider scope=Singleton
func NewDatabase(config Config) (*Database, error) { return &Database{}, nil }

//inject:provider set
func NewLogPlugin(clock other.Clock) Plugin { return nil }

//inject:provider map=string qualifier="routes"
func NewHome() other.Handler { return nil }

//inject:injectable scope=Activity
type Repo[T any] struct {
	DB    *Database
	Items map[string]T
}

//inject:injectable
type Screen struct {
	Users   *Repo[string]
	Plugins []Plugin
}

//inject:container scope=Singleton
type AppComponent interface {
	Database() *Database
	Plugins() []Plugin
}

//inject:container scope=Activity depends=AppComponent
type ActivityComponent interface {
	InjectScreen(screen *Screen)
}
