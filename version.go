package strata

// Version is the release of the strata module and CLI.
const Version = "0.1.0"
