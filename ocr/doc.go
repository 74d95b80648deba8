// Package ocr defines the contract between page processing and text
// recognition engines. Engines may run in-process (gosseract) or drive an
// external binary; callers only see Input and Result.
package ocr
