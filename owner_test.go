package main

import "testing"

func TestParseOwnerComponent(t *testing.T) {
	tests := []struct {
		name string
		dump string
		want string
	}{
		{
			name: "owner block with component",
			dump: `Current Device Policy Manager state:
  Device Owner:
    admin=ComponentInfo{com.hmdm.launcher/com.hmdm.launcher.AdminReceiver}
    name=
    package=com.hmdm.launcher`,
			want: "com.hmdm.launcher/com.hmdm.launcher.AdminReceiver",
		},
		{
			name: "no owner block",
			dump: "Current Device Policy Manager state:\n  Profile Owner (User 10):\n    admin=ComponentInfo{com.example.work/com.example.work.Admin}",
			want: "",
		},
		{
			name: "owner block without component",
			dump: "Device Owner:\n  name=managed\n",
			want: "",
		},
		{
			name: "component before owner block is ignored",
			dump: `  Admins:
    ComponentInfo{com.other.app/com.other.app.Recv}
  Device Owner:
    admin=ComponentInfo{com.hmdm.launcher/.AdminReceiver}`,
			want: "com.hmdm.launcher/.AdminReceiver",
		},
		{
			name: "empty dump",
			dump: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseOwnerComponent(tt.dump); got != tt.want {
				t.Errorf("parseOwnerComponent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutputIndicatesFailure(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{"success message", "Success: Device owner set to package ComponentInfo{com.hmdm.launcher/.AdminReceiver}", false},
		{"java exception", "java.lang.IllegalStateException: Trying to set the device owner, but device owner is already set.", false},
		{"error lowercase", "error: couldn't connect to activity manager", true},
		{"error uppercase", "Error: Bad admin: ComponentInfo{com.hmdm.launcher/.AdminReceiver}", true},
		{"failure mixed case", "Failure [NOT_INSTALLED]", true},
		{"failure uppercase", "FAILURE: accounts on device", true},
		{"empty output", "", false},
		{"unrelated text", "Active admin set to component", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outputIndicatesFailure(tt.output); got != tt.want {
				t.Errorf("outputIndicatesFailure(%q) = %v, want %v", tt.output, got, tt.want)
			}
		})
	}
}

func TestOwnerFailureHint(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{
			name:   "multiple users",
			output: "java.lang.IllegalStateException: Not allowed to set the device owner because there are already several users on the device",
			want:   "remove secondary users from the device and retry",
		},
		{
			name:   "existing accounts",
			output: "java.lang.IllegalStateException: Not allowed to set the device owner because there are already some accounts on the device",
			want:   "remove all accounts from the device and retry",
		},
		{
			name:   "owner already set",
			output: "java.lang.IllegalStateException: Trying to set the device owner, but device owner is already set.",
			want:   "remove the existing owner or factory reset the device",
		},
		{
			name:   "unknown admin",
			output: "java.lang.IllegalArgumentException: Unknown admin: ComponentInfo{com.hmdm.launcher/com.hmdm.launcher.AdminReceiver}",
			want:   "install the admin app before assigning ownership",
		},
		{
			name:   "unrecognized failure",
			output: "Error: couldn't connect to activity manager",
			want:   "",
		},
		{
			name:   "success output",
			output: "Success: Device owner set to package ComponentInfo{com.hmdm.launcher/.AdminReceiver}",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ownerFailureHint(tt.output); got != tt.want {
				t.Errorf("ownerFailureHint(%q) = %q, want %q", tt.output, got, tt.want)
			}
		})
	}
}
