package main

// General API documentation for swaggo. Run `swag init -g cmd/pocketllm/docs.go`
// to regenerate the docs package.
//
// @title           pocketllm API
// @version         1.0
// @description     Model session lifecycle and configuration profiles for a local LLM.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
