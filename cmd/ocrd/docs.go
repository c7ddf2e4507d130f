package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           ocrd API
// @version         1.0
// @description     HTTP API for local OCR runs against a resident vision-language model.
//
// @contact.name   ocrd maintainers
// @contact.url    https://github.com/your-org/ocrd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
