// Package signature holds the domain model of the email-signature service: the
// submitted request, the validated field projection, the normalized headshot,
// the published artifact and the rendered document, together with the error
// taxonomy every stage reports through and the Service that runs the stages
// (validate, normalize, publish, render) in order for a single submission.
package signature
