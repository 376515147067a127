/*
Package statemachine provides the immutable finite-state machines that govern activities.

A machine is built from a Definition through Compile, which refuses incoherent
definitions. Compiled machines carry no instance state: the current state of an
activity lives on the activity and is advanced with Fire.
*/
package statemachine
