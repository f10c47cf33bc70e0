package views

// Route is a navigation destination
type Route string

const (
	RouteBills   Route = "Bills"
	RouteNewBill Route = "NewBill"
)

// Paths maps routes to the URL paths the web layer serves them on
var Paths = map[Route]string{
	RouteBills:   "/bills",
	RouteNewBill: "/bills/new",
}

// Path returns the URL path of r
func (r Route) Path() string {
	return Paths[r]
}

// Navigator moves the user to another view
type Navigator func(Route)
