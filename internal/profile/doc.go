// Package profile implements the named parameter profile store.
//
// Profiles are value objects (Configuration); the Store is the only owner of
// their on-disk form. A "default" profile is created on first use and can be
// overwritten but never deleted. Records written by older versions that lack
// newer keys load with the documented defaults for those keys.
package profile
