// Package mcmc runs independent Markov chains in parallel and summarizes
// their draws.
//
// Each chain runs on its own goroutine with an RNG derived from the master
// seed, so the draws of chain k depend only on the seed and k. Chains never
// communicate while sampling; progress is published through one atomic
// counter per chain and read by an indicator goroutine at UI cadence.
// Summaries (posterior mean, SD, quantiles and the Gelman–Rubin R̂) are
// computed only after every chain has stopped.
package mcmc
