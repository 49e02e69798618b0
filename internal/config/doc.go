// Package config loads the swapbotd JSON configuration, fills defaults and
// applies secret overrides from the environment.
package config
