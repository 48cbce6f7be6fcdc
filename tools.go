//go:build tools

package tools

// Mocks are generated with the mockery v3 binary using .mockery.yaml at the
// module root. Run: mockery
