// Package services holds the sentinel error markers shared between stage
// collaborators, the worker framework, and the failure classifier.
package services
