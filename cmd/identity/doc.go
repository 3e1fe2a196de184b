// Package identity defines the booking principal as seen by the session agent.
//
// It contains the User record returned by the backend, the role bitmask
// (Passenger, Admin, Operator, Support) and the account status enum.
// Nothing here performs I/O.
package identity
