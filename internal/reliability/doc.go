// Package reliability provides retry policies for listener delivery.
package reliability
